package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/GIScience/oshdb-sub001/grid"
	"github.com/GIScience/oshdb-sub001/history"
	"github.com/GIScience/oshdb-sub001/oshdb_errors"
)

// Memory keeps every cell blob in a map per entity type.
type Memory struct {
	lock   sync.RWMutex
	tables map[history.EntityType]map[grid.CellID][]byte
}

func NewMemory() *Memory {
	return &Memory{tables: make(map[history.EntityType]map[grid.CellID][]byte)}
}

func (m *Memory) CreateTable(t history.EntityType) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if _, ok := m.tables[t]; !ok {
		m.tables[t] = make(map[grid.CellID][]byte)
	}
}

func (m *Memory) HasTable(t history.EntityType) (bool, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	_, ok := m.tables[t]
	return ok, nil
}

func (m *Memory) Put(_ context.Context, t history.EntityType, id grid.CellID, data []byte) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	table, ok := m.tables[t]
	if !ok {
		return fmt.Errorf("%w: %s", oshdb_errors.ErrTableNotFound, TableName(t))
	}
	table[id] = data
	return nil
}

func (m *Memory) Get(_ context.Context, t history.EntityType, id grid.CellID) ([]byte, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	table, ok := m.tables[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", oshdb_errors.ErrTableNotFound, TableName(t))
	}
	return table[id], nil
}

// Len is the number of cells stored for t.
func (m *Memory) Len(t history.EntityType) int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.tables[t])
}
