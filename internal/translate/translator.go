package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/sitesync/internal/model"
	"github.com/roach88/sitesync/internal/store"
)

// LinkResolver performs the external-id to canonical-id lookups pull
// translators need. *store.Tx satisfies it.
type LinkResolver interface {
	ResolveItemLink(ctx context.Context, linkID string) (string, error)
	ResolveNameLink(ctx context.Context, linkID string) (string, error)
}

// RowSource reads the current local rows push translators serialize.
// Both *store.Store and *store.Tx satisfy it.
type RowSource interface {
	LinkResolver
	GetUnit(ctx context.Context, id string) (*store.UnitRow, error)
	GetName(ctx context.Context, id string) (*store.NameRow, error)
	GetItem(ctx context.Context, id string) (*store.ItemRow, error)
	GetStore(ctx context.Context, id string) (*store.StoreRow, error)
	GetLocation(ctx context.Context, id string) (*store.LocationRow, error)
	GetStockLine(ctx context.Context, id string) (*store.StockLineRow, error)
	GetInvoice(ctx context.Context, id string) (*store.InvoiceRow, error)
	GetInvoiceLine(ctx context.Context, id string) (*store.InvoiceLineRow, error)
}

// Translator converts records of one table in both directions.
// Both methods return (nil, nil) when the translator does not own the
// record's table.
type Translator interface {
	Table() model.Table
	TryTranslatePull(ctx context.Context, links LinkResolver, rec model.WireRecord) (*DomainChange, error)
	TryTranslatePush(ctx context.Context, rows RowSource, entry model.ChangelogEntry) (*model.WireRecord, error)
}

// DomainChange is the local effect of one pulled record, ready to be
// applied inside the integrator's per-record transaction.
type DomainChange struct {
	Table    model.Table
	RecordID string
	Action   model.RowAction
	StoreID  *string

	apply func(ctx context.Context, tx *store.Tx) error
}

// Apply writes the change through tx.
func (c *DomainChange) Apply(ctx context.Context, tx *store.Tx) error {
	if c.apply == nil {
		return fmt.Errorf("apply %s %s: change has no effect", c.Table, c.RecordID)
	}
	return c.apply(ctx, tx)
}

// EchoMutation returns the changelog mutation recording this change as an
// echo of a pulled record, so it is never pushed back.
func (c *DomainChange) EchoMutation(origin *int64) model.Mutation {
	return model.Mutation{
		Table:        c.Table,
		RecordID:     c.RecordID,
		Action:       c.Action,
		StoreID:      c.StoreID,
		OriginSiteID: origin,
		IsEcho:       true,
	}
}

// Registry holds one translator per table, ordered by integration order.
type Registry struct {
	translators []Translator
}

// NewRegistry builds a registry from translators. Translators are consulted
// in model.IntegrationOrder of the tables they own.
func NewRegistry(translators ...Translator) *Registry {
	ts := slices.Clone(translators)
	slices.SortStableFunc(ts, func(a, b Translator) int {
		return a.Table().Rank() - b.Table().Rank()
	})
	return &Registry{translators: ts}
}

// DefaultRegistry returns a registry covering every syncable table.
func DefaultRegistry() *Registry {
	return NewRegistry(
		unitTranslator{},
		nameTranslator{},
		mergeTranslator{table: model.TableNameMerge},
		itemTranslator{},
		mergeTranslator{table: model.TableItemMerge},
		storeTranslator{},
		locationTranslator{},
		stockLineTranslator{},
		invoiceTranslator{},
		invoiceLineTranslator{},
	)
}

// Tables returns the tables with a registered translator, in integration order.
func (r *Registry) Tables() []model.Table {
	tables := make([]model.Table, len(r.translators))
	for i, t := range r.translators {
		tables[i] = t.Table()
	}
	return tables
}

// Validate reports tables in model.IntegrationOrder without a translator.
func (r *Registry) Validate() error {
	var missing []model.Table
	for _, tbl := range model.IntegrationOrder {
		if !slices.Contains(r.Tables(), tbl) {
			missing = append(missing, tbl)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("no translator registered for %v", missing)
	}
	return nil
}

// TranslatePull returns the domain change for a pulled record from the
// first translator that owns it.
func (r *Registry) TranslatePull(ctx context.Context, links LinkResolver, rec model.WireRecord) (*DomainChange, error) {
	for _, t := range r.translators {
		change, err := t.TryTranslatePull(ctx, links, rec)
		if err != nil {
			return nil, err
		}
		if change != nil {
			return change, nil
		}
	}
	return nil, noTranslator(rec.Table, rec.RecordID)
}

// TranslatePush returns the wire record for a changelog entry from the
// first translator that owns it.
func (r *Registry) TranslatePush(ctx context.Context, rows RowSource, entry model.ChangelogEntry) (*model.WireRecord, error) {
	for _, t := range r.translators {
		rec, err := t.TryTranslatePush(ctx, rows, entry)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return rec, nil
		}
	}
	return nil, noTranslator(entry.Table, entry.RecordID)
}

func noTranslator(table model.Table, id string) *TranslationError {
	return &TranslationError{
		Code:     ErrCodeNoTranslator,
		Table:    table,
		RecordID: id,
		Message:  "no translator owns this table",
	}
}

// decodePayload unmarshals the record's data into dst and checks that the
// payload id, when present, matches the record id.
func decodePayload(rec model.WireRecord, dst any, payloadID func() string) error {
	if len(rec.Data) == 0 || string(rec.Data) == "null" {
		return malformed(rec.Table, rec.RecordID, errors.New("empty payload"))
	}
	if err := json.Unmarshal(rec.Data, dst); err != nil {
		return malformed(rec.Table, rec.RecordID, err)
	}
	if payloadID != nil {
		if id := payloadID(); id != "" && id != rec.RecordID {
			return malformed(rec.Table, rec.RecordID, fmt.Errorf("payload id %q does not match record id", id))
		}
	}
	return nil
}

func requireField(rec model.WireRecord, name, value string) error {
	if value == "" {
		return malformed(rec.Table, rec.RecordID, fmt.Errorf("%s is required", name))
	}
	return nil
}

// resolve performs a link lookup, reporting a missing link as an
// unresolved reference and any other failure as-is.
func resolve(ctx context.Context, lookup func(context.Context, string) (string, error),
	table model.Table, id, field, ref string) (string, error) {
	canonical, err := lookup(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		return "", unresolved(table, id, field, ref, err)
	}
	if err != nil {
		return "", err
	}
	return canonical, nil
}

// canonicalID maps a pulled record id through its link table. An id with
// no link yet is a new record and keeps its own id.
func canonicalID(ctx context.Context, lookup func(context.Context, string) (string, error), id string) (string, error) {
	canonical, err := lookup(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return id, nil
	}
	if err != nil {
		return "", err
	}
	return canonical, nil
}

// pullDelete builds the change for a pulled delete of a table that
// supports deletion.
func pullDelete(rec model.WireRecord, storeID *string) *DomainChange {
	return &DomainChange{
		Table:    rec.Table,
		RecordID: rec.RecordID,
		Action:   model.ActionDelete,
		StoreID:  storeID,
		apply: func(ctx context.Context, tx *store.Tx) error {
			return tx.DeleteRow(ctx, rec.Table, rec.RecordID)
		},
	}
}

func unsupportedDelete(rec model.WireRecord) *TranslationError {
	return &TranslationError{
		Code:     ErrCodeUnsupportedAction,
		Table:    rec.Table,
		RecordID: rec.RecordID,
		Message:  "table does not accept deletes",
	}
}

// pushRecord serializes data as the wire record for entry. Deletes carry
// no data.
func pushRecord(entry model.ChangelogEntry, data any) (*model.WireRecord, error) {
	raw := json.RawMessage("null")
	if entry.Action != model.ActionDelete {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", entry.Table, entry.RecordID, err)
		}
		raw = b
	}
	return &model.WireRecord{
		Cursor:   entry.Cursor,
		Table:    entry.Table,
		RecordID: entry.RecordID,
		Action:   entry.Action,
		Data:     raw,
	}, nil
}

// loadRow reads the row behind a changelog entry, reporting a missing row
// as a translation error.
func loadRow[T any](ctx context.Context, entry model.ChangelogEntry, get func(context.Context, string) (*T, error)) (*T, error) {
	row, err := get(ctx, entry.RecordID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, rowMissing(entry.Table, entry.RecordID, err)
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}
