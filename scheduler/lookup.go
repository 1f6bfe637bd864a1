package scheduler

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"griddeployer/ledger"
)

// Batch-capacity ceilings. Without a loaded lookup table every account is
// embedded in full and only two deploys fit in one transaction; with the
// table the compact references raise the ceiling.
const (
	CeilingUnloaded = 2
	CeilingLoaded   = 5
)

// extendChunkSize bounds how many addresses one extend transaction carries.
const extendChunkSize = 20

// LookupTableManager caches the on-ledger acceleration index. knownAddresses
// grows monotonically for the process lifetime and is updated only after an
// extend chunk confirms, never optimistically. Unloaded is a valid terminal
// state; the scheduler just runs with the smaller ceiling. The mutex guards
// the cache: the loop goroutine mutates it while the admin surface reads.
type LookupTableManager struct {
	reader    ledger.Reader
	submitter *TransactionSubmitter
	log       *slog.Logger

	mu     sync.Mutex
	table  ledger.Address
	known  map[ledger.Address]struct{}
	order  []ledger.Address
	loaded bool
}

// NewLookupTableManager constructs an unloaded manager.
func NewLookupTableManager(reader ledger.Reader, submitter *TransactionSubmitter, log *slog.Logger) *LookupTableManager {
	return &LookupTableManager{
		reader:    reader,
		submitter: submitter,
		log:       log,
		known:     make(map[ledger.Address]struct{}),
	}
}

// Loaded reports whether a table backs the cache.
func (m *LookupTableManager) Loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded
}

// TableAddress returns the loaded table address, zero when unloaded.
func (m *LookupTableManager) TableAddress() ledger.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.table
}

// CapacityCeiling is the per-transaction deploy limit for the current state.
func (m *LookupTableManager) CapacityCeiling() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded {
		return CeilingLoaded
	}
	return CeilingUnloaded
}

// TableRef snapshots the table for transaction assembly; nil when unloaded.
func (m *LookupTableManager) TableRef() *ledger.TableRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded {
		return nil
	}
	entries := make([]ledger.Address, len(m.order))
	copy(entries, m.order)
	return &ledger.TableRef{Address: m.table, Entries: entries}
}

// Load reads the table account and replaces the cache with its contents.
func (m *LookupTableManager) Load(ctx context.Context, table ledger.Address) error {
	account, err := m.reader.GetAccount(ctx, table)
	if err != nil {
		return fmt.Errorf("load table: %w", err)
	}
	if account == nil {
		return fmt.Errorf("lookup table %s not found", table)
	}
	entries, err := parseTableEntries(account.Data)
	if err != nil {
		return fmt.Errorf("load table %s: %w", table, err)
	}
	m.mu.Lock()
	m.table = table
	m.known = make(map[ledger.Address]struct{}, len(entries))
	m.order = m.order[:0]
	for _, entry := range entries {
		m.remember(entry)
	}
	m.loaded = true
	m.mu.Unlock()
	return nil
}

// Create allocates a new empty table owned by the operator key and loads it.
func (m *LookupTableManager) Create(ctx context.Context) (ledger.Address, error) {
	slot, err := m.reader.GetSlot(ctx)
	if err != nil {
		return ledger.Address{}, fmt.Errorf("create table: %w", err)
	}
	payer := m.submitter.signer.Address()
	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], slot)
	table := ledger.DeriveAddress(ledger.LookupTableProgram, payer.Bytes(), seed[:])

	tx := &ledger.Transaction{
		Payer:        payer,
		RecentSlot:   slot,
		Instructions: []ledger.Instruction{tableCreateInstruction(table, payer, slot)},
	}
	if _, err := m.submitter.SubmitAndConfirm(ctx, tx, time.Second, 10); err != nil {
		return ledger.Address{}, fmt.Errorf("create table: %w", err)
	}
	m.mu.Lock()
	m.table = table
	m.known = make(map[ledger.Address]struct{})
	m.order = m.order[:0]
	m.loaded = true
	m.mu.Unlock()
	return table, nil
}

// MissingAddresses returns the candidates not yet in the cache, preserving
// input order and dropping duplicates.
func (m *LookupTableManager) MissingAddresses(candidates []ledger.Address) []ledger.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	var missing []ledger.Address
	seen := make(map[ledger.Address]struct{}, len(candidates))
	for _, addr := range candidates {
		if _, ok := m.known[addr]; ok {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		missing = append(missing, addr)
	}
	return missing
}

// Extend appends addresses to the table in bounded chunks, updating the cache
// chunk by chunk as each confirms. A failed chunk does not roll back the
// chunks before it; a retry simply recomputes MissingAddresses.
func (m *LookupTableManager) Extend(ctx context.Context, addrs []ledger.Address) error {
	m.mu.Lock()
	if !m.loaded {
		m.mu.Unlock()
		return fmt.Errorf("extend: no table loaded")
	}
	table := m.table
	m.mu.Unlock()
	payer := m.submitter.signer.Address()
	for start := 0; start < len(addrs); start += extendChunkSize {
		end := start + extendChunkSize
		if end > len(addrs) {
			end = len(addrs)
		}
		chunk := addrs[start:end]
		slot, err := m.reader.GetSlot(ctx)
		if err != nil {
			return fmt.Errorf("extend table: %w", err)
		}
		tx := &ledger.Transaction{
			Payer:        payer,
			RecentSlot:   slot,
			Instructions: []ledger.Instruction{tableExtendInstruction(table, payer, chunk)},
		}
		if _, err := m.submitter.SubmitAndConfirm(ctx, tx, time.Second, 10); err != nil {
			return fmt.Errorf("extend table chunk at %d: %w", start, err)
		}
		m.mu.Lock()
		for _, addr := range chunk {
			m.remember(addr)
		}
		known := len(m.known)
		m.mu.Unlock()
		m.log.Info("lookup table extended", "table", table.String(), "added", len(chunk), "known", known)
	}
	return nil
}

// KnownAddresses returns the cached entries in table order.
func (m *LookupTableManager) KnownAddresses() []ledger.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]ledger.Address, len(m.order))
	copy(entries, m.order)
	return entries
}

// remember records one entry; callers hold the mutex.
func (m *LookupTableManager) remember(addr ledger.Address) {
	if _, ok := m.known[addr]; ok {
		return
	}
	m.known[addr] = struct{}{}
	m.order = append(m.order, addr)
}

// parseTableEntries decodes a table account: a two-byte entry count followed
// by packed 32-byte addresses.
func parseTableEntries(data []byte) ([]ledger.Address, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("table data too short")
	}
	count := int(binary.LittleEndian.Uint16(data))
	if len(data) < 2+count*32 {
		return nil, fmt.Errorf("table data truncated: %d entries, %d bytes", count, len(data))
	}
	entries := make([]ledger.Address, 0, count)
	for i := 0; i < count; i++ {
		addr, err := ledger.NewAddress(data[2+i*32 : 2+(i+1)*32])
		if err != nil {
			return nil, err
		}
		entries = append(entries, addr)
	}
	return entries, nil
}
