package bridge

import (
	"context"
	"io"
	"sync"

	"dealrelay/service/internal/crm"
)

// uploadedFile is one CreateFile call seen by mockCRM.
type uploadedFile struct {
	DealID  string
	Name    string
	Content string
}

// mockCRM is an in-memory CRM for bot tests.
type mockCRM struct {
	mu        sync.Mutex
	files     []uploadedFile
	notes     map[string][]crm.Note // deal ID → notes, newest first
	listCalls int
	nextID    int64

	createFileErr error
	createNoteErr error
	listNotesErr  error
}

func newMockCRM() *mockCRM {
	return &mockCRM{notes: make(map[string][]crm.Note), nextID: 100}
}

func (m *mockCRM) CreateFile(_ context.Context, dealID, name string, content io.Reader) (*crm.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createFileErr != nil {
		return nil, m.createFileErr
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}
	m.files = append(m.files, uploadedFile{DealID: dealID, Name: name, Content: string(data)})
	m.nextID++
	return &crm.File{ID: m.nextID, Name: name}, nil
}

func (m *mockCRM) CreateNote(_ context.Context, dealID, content string) (*crm.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createNoteErr != nil {
		return nil, m.createNoteErr
	}
	m.nextID++
	note := crm.Note{ID: m.nextID, Content: content}
	m.notes[dealID] = append([]crm.Note{note}, m.notes[dealID]...)
	return &note, nil
}

func (m *mockCRM) ListNotes(_ context.Context, dealID string, limit, start int) ([]crm.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if m.listNotesErr != nil {
		return nil, m.listNotesErr
	}
	notes := m.notes[dealID]
	if start >= len(notes) {
		return nil, nil
	}
	notes = notes[start:]
	if limit > 0 && len(notes) > limit {
		notes = notes[:limit]
	}
	return notes, nil
}

func (m *mockCRM) seedNote(dealID, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.notes[dealID] = append(m.notes[dealID], crm.Note{ID: m.nextID, Content: content})
}

func (m *mockCRM) uploaded() []uploadedFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uploadedFile(nil), m.files...)
}

func (m *mockCRM) notesFor(dealID string) []crm.Note {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]crm.Note(nil), m.notes[dealID]...)
}
