package storage

import (
	"encoding/json"
	"fmt"
)

// Key namespace prefixes. BadgerDB is a flat key-value store; prefixes keep
// task and piece records in separate, range-scannable namespaces.
//
// Data Type   Prefix  Key Format               Value Type
// ========================================================
// Task        "t:"    t:<taskID>               Task (JSON)
// Piece       "p:"    p:<taskID>:<number>      Piece (JSON)
const (
	prefixTask  = "t:"
	prefixPiece = "p:"
)

// keyTask generates a key for task metadata: "t:<taskID>"
func keyTask(taskID string) []byte {
	return []byte(prefixTask + taskID)
}

// keyPiece generates a key for one piece: "p:<taskID>:<number>"
// The number is zero-padded so key order matches piece order.
func keyPiece(taskID string, number uint32) []byte {
	return []byte(fmt.Sprintf("%s%s:%010d", prefixPiece, taskID, number))
}

// keyPiecePrefix generates a prefix for range-scanning a task's pieces.
func keyPiecePrefix(taskID string) []byte {
	return []byte(prefixPiece + taskID + ":")
}

func encodeTask(task *Task) ([]byte, error) {
	data, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}
	return data, nil
}

func decodeTask(data []byte) (*Task, error) {
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &task, nil
}

func encodePiece(piece *Piece) ([]byte, error) {
	data, err := json.Marshal(piece)
	if err != nil {
		return nil, fmt.Errorf("encode piece: %w", err)
	}
	return data, nil
}

func decodePiece(data []byte) (*Piece, error) {
	var piece Piece
	if err := json.Unmarshal(data, &piece); err != nil {
		return nil, fmt.Errorf("decode piece: %w", err)
	}
	return &piece, nil
}
