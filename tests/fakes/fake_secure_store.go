package fakes

import (
	"sort"
	"strings"
	"sync"

	dserrors "github.com/systmms/laps/internal/errors"
)

// FakeSecureStore is an in-memory escrow.SecureStore.
type FakeSecureStore struct {
	mu    sync.Mutex
	items map[string][]byte

	// FailStore, FailLoad and FailDelete inject errors for handles with the given prefix.
	FailStore  map[string]error
	FailLoad   map[string]error
	FailDelete map[string]error

	// Writes counts successful Store calls per handle.
	Writes map[string]int
}

// NewFakeSecureStore creates an empty store.
func NewFakeSecureStore() *FakeSecureStore {
	return &FakeSecureStore{
		items:      make(map[string][]byte),
		FailStore:  make(map[string]error),
		FailLoad:   make(map[string]error),
		FailDelete: make(map[string]error),
		Writes:     make(map[string]int),
	}
}

func injected(failures map[string]error, handle string) error {
	for prefix, err := range failures {
		if strings.HasPrefix(handle, prefix) {
			return err
		}
	}
	return nil
}

// Store writes secret under handle.
func (f *FakeSecureStore) Store(handle string, secret []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := injected(f.FailStore, handle); err != nil {
		return err
	}
	f.items[handle] = append([]byte(nil), secret...)
	f.Writes[handle]++
	return nil
}

// Load reads the secret under handle.
func (f *FakeSecureStore) Load(handle string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := injected(f.FailLoad, handle); err != nil {
		return nil, err
	}
	v, ok := f.items[handle]
	if !ok {
		return nil, dserrors.New(dserrors.KindNotFound, "load", "no escrow item "+handle)
	}
	return append([]byte(nil), v...), nil
}

// Delete removes the secret under handle.
func (f *FakeSecureStore) Delete(handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := injected(f.FailDelete, handle); err != nil {
		return err
	}
	if _, ok := f.items[handle]; !ok {
		return dserrors.New(dserrors.KindNotFound, "delete", "no escrow item "+handle)
	}
	delete(f.items, handle)
	return nil
}

// Handles returns the stored handles, sorted.
func (f *FakeSecureStore) Handles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.items))
	for h := range f.items {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// HandlesWithPrefix returns the stored handles starting with prefix.
func (f *FakeSecureStore) HandlesWithPrefix(prefix string) []string {
	var out []string
	for _, h := range f.Handles() {
		if strings.HasPrefix(h, prefix) {
			out = append(out, h)
		}
	}
	return out
}

// Has reports whether handle exists.
func (f *FakeSecureStore) Has(handle string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.items[handle]
	return ok
}
