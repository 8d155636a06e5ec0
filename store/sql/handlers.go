package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// identifiedRecord is a payhooks row keyed by a uuid string in column id.
// idField must tolerate a nil receiver.
type identifiedRecord interface {
	idField() *string
}

func (r *eventClaimRecord) idField() *string {
	if r == nil {
		return nil
	}
	return &r.ID
}

func (r *rateLimitWindowRecord) idField() *string {
	if r == nil {
		return nil
	}
	return &r.ID
}

func (r *rateLimitBucketRecord) idField() *string {
	if r == nil {
		return nil
	}
	return &r.ID
}

func (r *integrationRecord) idField() *string {
	if r == nil {
		return nil
	}
	return &r.ID
}

func modelHandlers[T identifiedRecord](newRecord func() T) repository.ModelHandlers[T] {
	return repository.ModelHandlers[T]{
		NewRecord: newRecord,
		GetID: func(record T) uuid.UUID {
			parsed, err := uuid.Parse(recordID(record))
			if err != nil {
				return uuid.Nil
			}
			return parsed
		},
		SetID: func(record T, id uuid.UUID) {
			if field := record.idField(); field != nil {
				*field = id.String()
			}
		},
		GetIdentifier: func() string { return "id" },
		GetIdentifierValue: func(record T) string {
			return recordID(record)
		},
	}
}

func recordID[T identifiedRecord](record T) string {
	field := record.idField()
	if field == nil {
		return ""
	}
	return strings.TrimSpace(*field)
}

func eventClaimHandlers() repository.ModelHandlers[*eventClaimRecord] {
	return modelHandlers(func() *eventClaimRecord { return &eventClaimRecord{} })
}

func rateLimitWindowHandlers() repository.ModelHandlers[*rateLimitWindowRecord] {
	return modelHandlers(func() *rateLimitWindowRecord { return &rateLimitWindowRecord{} })
}

func rateLimitBucketHandlers() repository.ModelHandlers[*rateLimitBucketRecord] {
	return modelHandlers(func() *rateLimitBucketRecord { return &rateLimitBucketRecord{} })
}

func integrationHandlers() repository.ModelHandlers[*integrationRecord] {
	return modelHandlers(func() *integrationRecord { return &integrationRecord{} })
}
