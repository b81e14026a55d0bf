package registry

import (
	"context"
	"crypto/tls"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/harborgrid/harbormaster/interfaces"
)

// MockRegistry mocks the ServerRegistry interface
type MockRegistry struct {
	mock.Mock
}

// Available mocks the Available method
func (m *MockRegistry) Available(ep interfaces.Endpoint) bool {
	args := m.Called(ep)
	return args.Bool(0)
}

// Register mocks the Register method
func (m *MockRegistry) Register(server interfaces.ServerHandle, task interfaces.BackgroundTask) (*interfaces.ServerRegistration, error) {
	args := m.Called(server, task)
	return args.Get(0).(*interfaces.ServerRegistration), args.Error(1)
}

// Unregister mocks the Unregister method
func (m *MockRegistry) Unregister(reg *interfaces.ServerRegistration) bool {
	args := m.Called(reg)
	return args.Bool(0)
}

// Lookup mocks the Lookup method
func (m *MockRegistry) Lookup(ep interfaces.Endpoint) (*interfaces.ServerRegistration, bool) {
	args := m.Called(ep)
	return args.Get(0).(*interfaces.ServerRegistration), args.Bool(1)
}

// Get mocks the Get method
func (m *MockRegistry) Get(id uuid.UUID) (*interfaces.ServerRegistration, bool) {
	args := m.Called(id)
	return args.Get(0).(*interfaces.ServerRegistration), args.Bool(1)
}

// List mocks the List method
func (m *MockRegistry) List() []*interfaces.ServerRegistration {
	args := m.Called()
	return args.Get(0).([]*interfaces.ServerRegistration)
}

// Len mocks the Len method
func (m *MockRegistry) Len() int {
	args := m.Called()
	return args.Int(0)
}

// MockCertificateSource mocks the CertificateSource interface
type MockCertificateSource struct {
	mock.Mock
}

// CertificateFor mocks the CertificateFor method
func (m *MockCertificateSource) CertificateFor(ctx context.Context, ref string) (*tls.Config, error) {
	args := m.Called(ctx, ref)
	return args.Get(0).(*tls.Config), args.Error(1)
}
