package records

import (
	"context"
	"strings"
)

// NewStore picks a backend from configuration: Supabase when URL and
// key are set, Postgres when a database URL is set, in-memory
// otherwise.
func NewStore(ctx context.Context, supabaseURL, supabaseKey, databaseURL string) (Store, error) {
	if strings.TrimSpace(supabaseURL) != "" && strings.TrimSpace(supabaseKey) != "" {
		return NewSupabaseStore(supabaseURL, supabaseKey)
	}
	if strings.TrimSpace(databaseURL) != "" {
		return NewPostgresStore(ctx, databaseURL)
	}
	return NewMemoryStore(), nil
}
