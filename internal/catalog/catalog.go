// Package catalog reads entity metadata (uuid, handle, title) from the
// DSpace relational database. It is the read-only counterpart of the Solr
// statistics engine: statistics are attributed to the rows returned here.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dspace-analytics/statistics-api/pkg/config"
	apperrors "github.com/dspace-analytics/statistics-api/pkg/errors"
	"github.com/dspace-analytics/statistics-api/pkg/postgres"
)

// Kind identifies the entity table statistics are reported for.
type Kind string

const (
	KindItem       Kind = "item"
	KindCollection Kind = "collection"
	KindCommunity  Kind = "community"
)

// Label returns the capitalized plural used in CSV export filenames.
func (k Kind) Label() string {
	switch k {
	case KindItem:
		return "Items"
	case KindCollection:
		return "Collections"
	case KindCommunity:
		return "Communities"
	default:
		return "Entities"
	}
}

func (k Kind) String() string { return string(k) }

// EntityRow is one catalog entity with its display metadata. Handle and
// title may be empty when the joins find nothing.
type EntityRow struct {
	UUID   string `json:"uuid"`
	Handle string `json:"handle"`
	Title  string `json:"title"`
}

// Repository runs catalog queries against the DSpace database.
type Repository struct {
	db     *postgres.Client
	cfg    config.DSpaceConfig
	logger *slog.Logger
}

// NewRepository creates a catalog Repository.
func NewRepository(db *postgres.Client, cfg config.DSpaceConfig) *Repository {
	return &Repository{
		db:     db,
		cfg:    cfg,
		logger: slog.Default().With("component", "catalog"),
	}
}

func (r *Repository) resourceTypeID(kind Kind) int {
	switch kind {
	case KindCollection:
		return r.cfg.CollectionResourceTypeID
	case KindCommunity:
		return r.cfg.CommunityResourceTypeID
	default:
		return r.cfg.ItemResourceTypeID
	}
}

// archiveFilter returns the visibility predicate for a kind. Only items
// carry archive/withdrawn flags.
func archiveFilter(kind Kind) string {
	if kind == KindItem {
		return "item.in_archive = TRUE AND item.withdrawn = FALSE"
	}
	return ""
}

// TitleFieldID resolves the configured title metadata field
// (schema.element[.qualifier]) to its metadata_field_id. The second return
// is false when the registry has no such field; callers then skip the
// title filter rather than failing.
func (r *Repository) TitleFieldID(ctx context.Context) (int, bool, error) {
	schema, element, qualifier := r.cfg.TitleField()

	query := `SELECT metadatafieldregistry.metadata_field_id
		FROM metadataschemaregistry
		INNER JOIN metadatafieldregistry
			ON metadatafieldregistry.metadata_schema_id = metadataschemaregistry.metadata_schema_id
		WHERE metadataschemaregistry.short_id = $1
		AND metadatafieldregistry.element = $2`
	args := []any{schema, element}
	if qualifier != "" {
		query += " AND metadatafieldregistry.qualifier = $3"
		args = append(args, qualifier)
	} else {
		query += " AND metadatafieldregistry.qualifier IS NULL"
	}

	var id int
	err := r.db.DB.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		r.logger.Warn("title metadata field not found, titles will be unfiltered",
			"field", r.cfg.TitleMetadataField,
		)
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("resolving title metadata field: %w", err)
	}
	return id, true, nil
}

// Rows returns entity rows for a kind. A non-empty uuid restricts the
// result to that entity; otherwise limit/page select a page, and limit <= 0
// returns every entity (used by CSV export).
func (r *Repository) Rows(ctx context.Context, kind Kind, uuid string, limit, page int) ([]EntityRow, error) {
	titleFieldID, haveTitleField, err := r.TitleFieldID(ctx)
	if err != nil {
		return nil, err
	}

	table := kind.String()
	var sb strings.Builder
	fmt.Fprintf(&sb, `SELECT %[1]s.uuid AS uuid,
		MAX(handle.handle) AS handle,
		MAX(metadatavalue.text_value) AS title
		FROM %[1]s
		LEFT JOIN handle
			ON handle.resource_id = %[1]s.uuid AND handle.resource_type_id = $1
		LEFT JOIN metadatavalue
			ON metadatavalue.dspace_object_id = %[1]s.uuid`, table)

	args := []any{r.resourceTypeID(kind)}
	conditions := make([]string, 0, 3)
	if f := archiveFilter(kind); f != "" {
		conditions = append(conditions, f)
	}
	if haveTitleField {
		args = append(args, titleFieldID)
		conditions = append(conditions, fmt.Sprintf("metadatavalue.metadata_field_id = $%d", len(args)))
	}
	if uuid != "" {
		args = append(args, uuid)
		conditions = append(conditions, fmt.Sprintf("%s.uuid = $%d", table, len(args)))
	}
	if len(conditions) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conditions, " AND "))
	}
	fmt.Fprintf(&sb, " GROUP BY %[1]s.uuid ORDER BY %[1]s.uuid", table)
	if uuid == "" && limit > 0 {
		args = append(args, limit, (page-1)*limit)
		fmt.Fprintf(&sb, " LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := r.db.DB.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: querying %s rows: %v", apperrors.ErrCatalog, table, err)
	}
	defer rows.Close()

	var entities []EntityRow
	for rows.Next() {
		var e EntityRow
		var handle, title sql.NullString
		if err := rows.Scan(&e.UUID, &handle, &title); err != nil {
			return nil, fmt.Errorf("%w: scanning %s row: %v", apperrors.ErrCatalog, table, err)
		}
		e.Handle = handle.String
		e.Title = title.String
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating %s rows: %v", apperrors.ErrCatalog, table, err)
	}
	return entities, nil
}

// Total counts the entities of a kind visible to the API, for computing
// total_pages on unscoped requests.
func (r *Repository) Total(ctx context.Context, kind Kind) (int, error) {
	table := kind.String()
	query := fmt.Sprintf("SELECT COUNT(%[1]s.uuid) FROM %[1]s", table)
	if f := archiveFilter(kind); f != "" {
		query += " WHERE " + f
	}

	var total int
	if err := r.db.DB.QueryRowContext(ctx, query).Scan(&total); err != nil {
		return 0, fmt.Errorf("%w: counting %s rows: %v", apperrors.ErrCatalog, table, err)
	}
	return total, nil
}
