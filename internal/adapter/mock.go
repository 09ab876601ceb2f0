package adapter

import "context"

// MockTranscript is what the mock agent "prints".
const MockTranscript = "mock command output\nMock execution completed successfully"

// Mock pretends to run an agent without executing anything. It exists to
// exercise the framework end to end.
type Mock struct {
	name string
}

func (m *Mock) Name() string { return m.name }

func (m *Mock) CheckAvailability(context.Context) error { return nil }

func (m *Mock) Run(ctx context.Context, _ *Request) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Output{Transcript: MockTranscript}, nil
}
