package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/repositories"
)

const (
	historyIDPrefix = "hst_"

	// HistoryTimeLayout is the stored representation of timestamp fields.
	HistoryTimeLayout = "2006-01-02T15:04:05.000000Z07:00"
)

type fieldKind int

const (
	fieldKindEnum fieldKind = iota
	fieldKindTimestamp
	fieldKindText
	fieldKindCategories
)

// fieldSerializer normalises one tracked order field into its stored history value.
type fieldSerializer struct {
	kind    fieldKind
	extract func(domain.Order) *string
}

var orderFieldSerializers = map[domain.HistoryField]fieldSerializer{
	domain.HistoryFieldStatus: {
		kind:    fieldKindEnum,
		extract: func(o domain.Order) *string { return serializeEnum(string(o.Status)) },
	},
	domain.HistoryFieldPriority: {
		kind:    fieldKindEnum,
		extract: func(o domain.Order) *string { return serializeEnum(string(o.Priority)) },
	},
	domain.HistoryFieldAssignedTo: {
		kind:    fieldKindText,
		extract: func(o domain.Order) *string { return serializeText(o.AssignedTo) },
	},
	domain.HistoryFieldEstimatedCompletion: {
		kind:    fieldKindTimestamp,
		extract: func(o domain.Order) *string { return serializeTime(o.EstimatedCompletion) },
	},
	domain.HistoryFieldTitle: {
		kind:    fieldKindText,
		extract: func(o domain.Order) *string { return serializeText(&o.Title) },
	},
	domain.HistoryFieldDescription: {
		kind:    fieldKindText,
		extract: func(o domain.Order) *string { return serializeText(o.Description) },
	},
	domain.HistoryFieldNotes: {
		kind:    fieldKindText,
		extract: func(o domain.Order) *string { return serializeText(o.Notes) },
	},
	domain.HistoryFieldCategories: {
		kind:    fieldKindCategories,
		extract: func(o domain.Order) *string { return serializeCategories(o.Categories) },
	},
}

func serializeEnum(value string) *string {
	return optionalString(strings.TrimSpace(value))
}

func serializeText(value *string) *string {
	if value == nil {
		return nil
	}
	return optionalString(strings.TrimSpace(*value))
}

func serializeTime(value *time.Time) *string {
	if value == nil || value.IsZero() {
		return nil
	}
	formatted := value.UTC().Format(HistoryTimeLayout)
	return &formatted
}

func serializeBool(value bool) *string {
	formatted := strconv.FormatBool(value)
	return &formatted
}

// serializeCategories renders the sorted, de-duplicated id set as a JSON array.
func serializeCategories(ids []int) *string {
	normalized := normalizeCategories(ids)
	if len(normalized) == 0 {
		return nil
	}
	data, err := json.Marshal(normalized)
	if err != nil {
		return nil
	}
	formatted := string(data)
	return &formatted
}

func normalizeCategories(ids []int) []int {
	if len(ids) == 0 {
		return nil
	}
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

func parseCategories(value *string) []int {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil
	}
	var ids []int
	if err := json.Unmarshal([]byte(*value), &ids); err != nil {
		return nil
	}
	return normalizeCategories(ids)
}

// HistoryRecorderDeps bundles collaborators for the audit trail recorder.
type HistoryRecorderDeps struct {
	Repository  repositories.HistoryRepository
	Clock       func() time.Time
	IDGenerator func() string
}

// HistoryRecorder diffs order snapshots into append-only history rows.
type HistoryRecorder struct {
	repo  repositories.HistoryRepository
	clock func() time.Time
	newID func() string
}

// NewHistoryRecorder wires the recorder.
func NewHistoryRecorder(deps HistoryRecorderDeps) (*HistoryRecorder, error) {
	if deps.Repository == nil {
		return nil, errors.New("history recorder: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	return &HistoryRecorder{
		repo: deps.Repository,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID: idGen,
	}, nil
}

type fieldChange struct {
	field    domain.HistoryField
	oldValue *string
	newValue *string
}

// changedOrderFields compares normalised values in the fixed tracked-field order.
func changedOrderFields(before, after domain.Order) []fieldChange {
	var changes []fieldChange
	for _, field := range domain.TrackedOrderFields {
		serializer, ok := orderFieldSerializers[field]
		if !ok {
			continue
		}
		oldValue := serializer.extract(before)
		newValue := serializer.extract(after)
		if equalStringPtr(oldValue, newValue) {
			continue
		}
		changes = append(changes, fieldChange{field: field, oldValue: oldValue, newValue: newValue})
	}
	return changes
}

// OrderChanges returns one row per tracked field whose normalised value differs, in the
// fixed tracked-field order.
func (r *HistoryRecorder) OrderChanges(before, after domain.Order, actor, comment *string) []domain.OrderHistory {
	changes := changedOrderFields(before, after)
	if len(changes) == 0 {
		return nil
	}
	now := r.clock()
	creator := resolveHistoryCreator(actor, after)
	entries := make([]domain.OrderHistory, 0, len(changes))
	for _, change := range changes {
		entries = append(entries, domain.OrderHistory{
			ID:           r.nextID(),
			OrderID:      after.ID,
			FieldChanged: change.field,
			OldValue:     change.oldValue,
			NewValue:     change.newValue,
			Comment:      cloneStringPtr(comment),
			CreatedBy:    creator,
			CreatedAt:    now,
		})
	}
	return entries
}

// GateChange records a flip of an item, component or service flag. ok is false when the
// flag did not change.
func (r *HistoryRecorder) GateChange(order domain.Order, field domain.HistoryField, subject string, before, after bool, actor *string) (domain.OrderHistory, bool) {
	if before == after {
		return domain.OrderHistory{}, false
	}
	return domain.OrderHistory{
		ID:           r.nextID(),
		OrderID:      order.ID,
		FieldChanged: field,
		OldValue:     serializeBool(before),
		NewValue:     serializeBool(after),
		Comment:      optionalString(strings.TrimSpace(subject)),
		CreatedBy:    resolveHistoryCreator(actor, order),
		CreatedAt:    r.clock(),
	}, true
}

// MoneyChange records a monetary field change such as the down payment.
func (r *HistoryRecorder) MoneyChange(order domain.Order, field domain.HistoryField, before, after *string, actor *string) (domain.OrderHistory, bool) {
	if equalStringPtr(before, after) {
		return domain.OrderHistory{}, false
	}
	return domain.OrderHistory{
		ID:           r.nextID(),
		OrderID:      order.ID,
		FieldChanged: field,
		OldValue:     before,
		NewValue:     after,
		CreatedBy:    resolveHistoryCreator(actor, order),
		CreatedAt:    r.clock(),
	}, true
}

// Append persists rows inside the caller's unit of work.
func (r *HistoryRecorder) Append(ctx context.Context, entries []domain.OrderHistory) error {
	if len(entries) == 0 {
		return nil
	}
	return r.repo.Append(ctx, entries...)
}

func (r *HistoryRecorder) nextID() string {
	return historyIDPrefix + r.newID()
}

// resolveHistoryCreator attributes a row to the actor, else the order's last updater, else
// its creator.
func resolveHistoryCreator(actor *string, order domain.Order) string {
	if actor != nil {
		if v := strings.TrimSpace(*actor); v != "" {
			return v
		}
	}
	if order.UpdatedBy != nil {
		if v := strings.TrimSpace(*order.UpdatedBy); v != "" {
			return v
		}
	}
	return strings.TrimSpace(order.CreatedBy)
}

// DescribeChange renders a human readable summary of a history row.
func DescribeChange(entry domain.OrderHistory) string {
	if serializer, ok := orderFieldSerializers[entry.FieldChanged]; ok && serializer.kind == fieldKindCategories {
		return describeCategories(parseCategories(entry.OldValue), parseCategories(entry.NewValue))
	}

	label := fieldLabel(entry.FieldChanged)
	switch {
	case entry.OldValue == nil && entry.NewValue == nil:
		return label + " unchanged"
	case entry.OldValue == nil:
		return fmt.Sprintf("%s set to `%s`", label, *entry.NewValue)
	case entry.NewValue == nil:
		return fmt.Sprintf("%s removed (was: `%s`)", label, *entry.OldValue)
	default:
		return fmt.Sprintf("%s changed from `%s` to `%s`", label, *entry.OldValue, *entry.NewValue)
	}
}

func describeCategories(oldIDs, newIDs []int) string {
	if slices.Equal(oldIDs, newIDs) {
		return "unchanged"
	}
	if len(oldIDs) == 0 {
		return "added: " + joinIDs(newIDs)
	}
	if len(newIDs) == 0 {
		return "removed (was: " + joinIDs(oldIDs) + ")"
	}

	var added, removed []int
	for _, id := range newIDs {
		if !slices.Contains(oldIDs, id) {
			added = append(added, id)
		}
	}
	for _, id := range oldIDs {
		if !slices.Contains(newIDs, id) {
			removed = append(removed, id)
		}
	}

	parts := make([]string, 0, 2)
	if len(added) > 0 {
		parts = append(parts, "added: "+joinIDs(added))
	}
	if len(removed) > 0 {
		parts = append(parts, "removed: "+joinIDs(removed))
	}
	return strings.Join(parts, "; ")
}

func joinIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ", ")
}

func fieldLabel(field domain.HistoryField) string {
	words := strings.ReplaceAll(string(field), "_", " ")
	return cases.Title(language.English).String(words)
}

func equalStringPtr(a, b *string) bool {
	switch {
	case a == nil && b == nil:
		return true
	case a == nil || b == nil:
		return false
	default:
		return *a == *b
	}
}
