package usecase

import (
	"errors"
	"fmt"

	"streamgate/internal/domain"
)

var (
	ErrEngine     = errors.New("engine error")
	ErrRepository = errors.New("repository error")
)

// wrapEngine keeps the engine cause in the chain so domain sentinels such as
// domain.ErrEngineAttach stay matchable.
func wrapEngine(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrEngine, err)
}

func wrapRepo(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrRepository, err)
}

func wrapDisk(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s %s: %v", domain.ErrDisk, op, path, err)
}
