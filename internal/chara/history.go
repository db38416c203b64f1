package chara

import (
	"fmt"

	"chara-go/internal/model"
)

// GetHistory returns the most recent operations, newest first.
func (s *CardService) GetHistory(limit int) ([]*model.Operation, error) {
	ops, err := s.database.ListOperations(limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}
