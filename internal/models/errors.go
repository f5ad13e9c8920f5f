package models

import (
	"errors"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
)

var (
	// ErrConfiguration marks ambiguous or missing backend selection and
	// unsupported embedding configuration.
	ErrConfiguration = goerr.New("configuration error")
	// ErrConnectivity marks a backend that is unreachable or timed out.
	ErrConnectivity = goerr.New("backend unreachable")
	// ErrValidation marks malformed ids and out-of-range fields.
	ErrValidation = goerr.New("validation error")
	// ErrEmbedding marks a store write that failed because no usable vector
	// could be produced for the record.
	ErrEmbedding = goerr.New("embedding unavailable")
)

// Configuration builds an error classified as ErrConfiguration.
func Configuration(msg string, kv ...any) error {
	return goerr.Wrap(ErrConfiguration, msg, values(kv)...)
}

// Validation builds an error classified as ErrValidation.
func Validation(msg string, kv ...any) error {
	return goerr.Wrap(ErrValidation, msg, values(kv)...)
}

// Connectivity classifies cause as ErrConnectivity while keeping it in the chain.
func Connectivity(cause error, msg string, kv ...any) error {
	return goerr.Wrap(fmt.Errorf("%w: %w", ErrConnectivity, cause), msg, values(kv)...)
}

// EmbeddingFailure classifies cause as ErrEmbedding. The cause keeps its own
// classification in the chain.
func EmbeddingFailure(cause error, msg string, kv ...any) error {
	return goerr.Wrap(fmt.Errorf("%w: %w", ErrEmbedding, cause), msg, values(kv)...)
}

func IsConfiguration(err error) bool { return errors.Is(err, ErrConfiguration) }
func IsConnectivity(err error) bool  { return errors.Is(err, ErrConnectivity) }
func IsValidation(err error) bool    { return errors.Is(err, ErrValidation) }
func IsEmbedding(err error) bool     { return errors.Is(err, ErrEmbedding) }

func values(kv []any) []goerr.Option {
	opts := make([]goerr.Option, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		opts = append(opts, goerr.V(key, kv[i+1]))
	}
	return opts
}
