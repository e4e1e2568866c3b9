package fakes

import (
	"context"
	"sync"

	"github.com/systmms/laps/internal/directory"
	dserrors "github.com/systmms/laps/internal/errors"
)

// FakeDirectory is an in-memory directory.Client holding one computer object.
type FakeDirectory struct {
	mu sync.Mutex

	DN         string
	Attributes map[string]string
	// Allowed is returned by AllowedAttributes.
	Allowed []string
	// Replicas is returned by EnumerateReplicas. Nil means one writable replica.
	Replicas []directory.Replica

	BindErr      error
	WriteErr     error
	EnumerateErr error
	CloseErr     error

	// Writes records every WriteAttributes call, keyed by replica.
	Writes []FakeWrite
}

// FakeWrite is one recorded WriteAttributes call.
type FakeWrite struct {
	Server string
	Values map[string]string
}

// NewFakeDirectory creates a directory whose computer object has the given attributes.
func NewFakeDirectory(attrs map[string]string, allowed ...string) *FakeDirectory {
	if attrs == nil {
		attrs = make(map[string]string)
	}
	return &FakeDirectory{
		DN:         "CN=MAC01,OU=Macs,DC=corp,DC=example,DC=com",
		Attributes: attrs,
		Allowed:    allowed,
	}
}

// Attribute returns the current value of attr.
func (f *FakeDirectory) Attribute(attr string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.Attributes[attr]
	return v, ok
}

// WriteCount returns the number of WriteAttributes calls.
func (f *FakeDirectory) WriteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Writes)
}

func (f *FakeDirectory) Bind(ctx context.Context) (directory.Session, error) {
	return f.BindReplica(ctx, "ldaps://dc1.corp.example.com")
}

func (f *FakeDirectory) BindReplica(ctx context.Context, address string) (directory.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BindErr != nil {
		return nil, f.BindErr
	}
	return &fakeSession{dir: f, address: address}, nil
}

func (f *FakeDirectory) EnumerateReplicas(ctx context.Context, attrs []string) ([]directory.Replica, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EnumerateErr != nil {
		return nil, f.EnumerateErr
	}
	if f.Replicas == nil {
		return []directory.Replica{{Address: "ldaps://dc1.corp.example.com", Writable: true}}, nil
	}
	return append([]directory.Replica(nil), f.Replicas...), nil
}

type fakeSession struct {
	dir     *FakeDirectory
	address string
	closed  bool
}

func (s *fakeSession) Server() string { return s.address }

func (s *fakeSession) ComputerDN(ctx context.Context) (string, error) {
	return s.dir.DN, nil
}

func (s *fakeSession) ReadAttribute(ctx context.Context, attr string) (string, bool, error) {
	if s.closed {
		return "", false, dserrors.New(dserrors.KindUnreachable, "read", "session closed")
	}
	v, ok := s.dir.Attribute(attr)
	return v, ok, nil
}

func (s *fakeSession) AllowedAttributes(ctx context.Context) ([]string, error) {
	s.dir.mu.Lock()
	defer s.dir.mu.Unlock()
	return append([]string(nil), s.dir.Allowed...), nil
}

func (s *fakeSession) AllowedAttributesEffective(ctx context.Context) ([]string, error) {
	return s.AllowedAttributes(ctx)
}

func (s *fakeSession) ReadOnly(ctx context.Context) (bool, error) {
	return false, nil
}

func (s *fakeSession) WriteAttributes(ctx context.Context, values map[string]string) error {
	s.dir.mu.Lock()
	defer s.dir.mu.Unlock()
	if s.closed {
		return dserrors.New(dserrors.KindUnreachable, "write", "session closed")
	}
	if s.dir.WriteErr != nil {
		return s.dir.WriteErr
	}
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
		s.dir.Attributes[k] = v
	}
	s.dir.Writes = append(s.dir.Writes, FakeWrite{Server: s.address, Values: copied})
	return nil
}

func (s *fakeSession) Close() error {
	s.dir.mu.Lock()
	defer s.dir.mu.Unlock()
	s.closed = true
	return s.dir.CloseErr
}

var _ directory.Client = (*FakeDirectory)(nil)
