package slack

import "context"

type Provider interface {
	PostMessage(ctx context.Context, header string, fields map[string]string) error
}

type NoOpProvider struct{}

func (p *NoOpProvider) PostMessage(ctx context.Context, header string, fields map[string]string) error {
	return nil
}
