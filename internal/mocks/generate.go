// Package mocks provides generated mock implementations for testing.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks
// for the ports defined in internal/core. To regenerate after interface
// changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	verifier := mocks.NewMockSignatureVerifier(ctrl)
//	verifier.EXPECT().Verify("stripe", gomock.Any(), gomock.Any()).Return(nil)
package mocks

// Generate mock for SignatureVerifier interface from internal/core package.
// This creates MockSignatureVerifier with methods for all SignatureVerifier
// interface methods: Verify
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=signature_verifier_mock.go github.com/Valdrix-AI/valdrix-sub000/internal/core SignatureVerifier
