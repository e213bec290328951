package directory

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresResolver resolves identities from a profiles table.
//
// Expected schema (schema name configurable, default "courier"):
//
//	CREATE TABLE profiles (
//	    user_id      TEXT PRIMARY KEY,
//	    display_name TEXT NOT NULL DEFAULT '',
//	    avatar_url   TEXT NOT NULL DEFAULT ''
//	);
type PostgresResolver struct {
	pool   *pgxpool.Pool
	schema string
}

// ResolverOption configures PostgresResolver behavior.
type ResolverOption func(*PostgresResolver) error

// WithSchema sets the DB schema used by the resolver (default: "courier").
func WithSchema(schema string) ResolverOption {
	return func(r *PostgresResolver) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("directory: empty schema")
		}
		if !identRE.MatchString(schema) {
			return errors.New("directory: invalid schema identifier")
		}
		r.schema = schema
		return nil
	}
}

// NewPostgresResolver constructs a profiles-backed Resolver.
func NewPostgresResolver(pool *pgxpool.Pool, opts ...ResolverOption) (*PostgresResolver, error) {
	r := &PostgresResolver{pool: pool, schema: "courier"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	if r.pool == nil {
		return nil, errors.New("directory: nil pool")
	}
	return r, nil
}

// Resolve returns the stored identity for userID, or ErrUnknownUser.
func (r *PostgresResolver) Resolve(ctx context.Context, userID string) (Identity, error) {
	if r == nil || r.pool == nil {
		return Identity{}, errors.New("directory: nil resolver")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Identity{}, ErrUnknownUser
	}

	profiles := pgx.Identifier{r.schema, "profiles"}.Sanitize()

	var id Identity
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, display_name, avatar_url FROM `+profiles+` WHERE user_id = $1`,
		userID,
	).Scan(&id.UserID, &id.DisplayName, &id.AvatarURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return Identity{}, ErrUnknownUser
	}
	if err != nil {
		return Identity{}, err
	}
	return id, nil
}

var identRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
