package bookmarks

import (
	"context"
	"fmt"
	"strings"

	"github.com/mikepea/nookmark/pkg/nookmark/database"
	"github.com/mikepea/nookmark/pkg/nookmark/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SortField is a column bookmarks can be ordered by
type SortField string

const (
	SortCreatedAt SortField = "created_at"
	SortUpdatedAt SortField = "updated_at"
	SortTitle     SortField = "title"
)

// SortOrder is the direction of a sort
type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// Filters narrow a listing. All set filters must match.
type Filters struct {
	// Search matches case-insensitively anywhere in title, description or url
	Search string
	// Starred limits the listing to starred bookmarks when true
	Starred bool
	// Archived selects archived (true) or unarchived (false) bookmarks;
	// nil lists both
	Archived *bool
	// Tags lists tag names a bookmark must all carry
	Tags []string
}

// ListOptions controls filtering, ordering and paging
type ListOptions struct {
	Filters
	SortBy   SortField
	Order    SortOrder
	Page     int
	PageSize int
}

// Page is one page of a listing
type Page struct {
	Items        []Item `json:"items"`
	Total        int64  `json:"total"`
	Page         int    `json:"page"`
	PageSize     int    `json:"page_size"`
	TotalPages   int    `json:"total_pages"`
	VisiblePages []int  `json:"visible_pages"`
}

// List returns a page of the user's bookmarks. The total is counted with
// the same filters as the page itself.
func (s *Service) List(ctx context.Context, userID uint, opts ListOptions) (*Page, error) {
	page, size := s.normalizePaging(opts.Page, opts.PageSize)
	db := s.db.WithContext(ctx)
	filter := filterScope(db, userID, opts.Filters)

	var total int64
	if err := db.Model(&models.Bookmark{}).Scopes(filter).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("counting bookmarks: %w", err)
	}

	var rows []models.Bookmark
	err := db.Scopes(filter, sortScope(opts.SortBy, opts.Order)).
		Limit(size).
		Offset((page - 1) * size).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing bookmarks: %w", err)
	}

	items, err := withTags(db, rows)
	if err != nil {
		return nil, err
	}

	totalPages := int((total + int64(size) - 1) / int64(size))
	return &Page{
		Items:        items,
		Total:        total,
		Page:         page,
		PageSize:     size,
		TotalPages:   totalPages,
		VisiblePages: VisiblePages(page, totalPages, s.opts.MaxVisiblePages),
	}, nil
}

func (s *Service) normalizePaging(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = s.opts.DefaultPageSize
	}
	if size > s.opts.MaxPageSize {
		size = s.opts.MaxPageSize
	}
	return page, size
}

func filterScope(db *gorm.DB, userID uint, f Filters) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		q = q.Where("bookmarks.user_id = ?", userID)

		if f.Archived != nil {
			if *f.Archived {
				q = q.Where("bookmarks.archived_at IS NOT NULL")
			} else {
				q = q.Where("bookmarks.archived_at IS NULL")
			}
		}

		if f.Starred {
			q = q.Where("bookmarks.starred = ?", true)
		}

		if search := strings.TrimSpace(f.Search); search != "" {
			pattern := "%" + escapeLike(strings.ToLower(search)) + "%"
			// Both sides fold with the same function, SQLite's LOWER is ASCII only
			lower := database.LowerFunc
			q = q.Where(`(`+lower+`(bookmarks.title) LIKE ? ESCAPE '\'`+
				` OR `+lower+`(COALESCE(bookmarks.description, '')) LIKE ? ESCAPE '\'`+
				` OR `+lower+`(bookmarks.url) LIKE ? ESCAPE '\')`,
				pattern, pattern, pattern)
		}

		if names := uniqueNames(f.Tags); len(names) > 0 {
			carrying := db.Session(&gorm.Session{NewDB: true}).
				Table("bookmark_tags").
				Select("bookmark_tags.bookmark_id").
				Joins("JOIN tags ON tags.id = bookmark_tags.tag_id").
				Where("tags.user_id = ? AND tags.name IN ?", userID, names).
				Group("bookmark_tags.bookmark_id").
				Having("COUNT(DISTINCT tags.id) = ?", len(names))
			q = q.Where("bookmarks.id IN (?)", carrying)
		}
		return q
	}
}

func sortScope(field SortField, order SortOrder) func(*gorm.DB) *gorm.DB {
	switch field {
	case SortCreatedAt, SortUpdatedAt, SortTitle:
	default:
		field = SortCreatedAt
	}
	desc := order != OrderAsc

	return func(q *gorm.DB) *gorm.DB {
		return q.
			Order(clause.OrderByColumn{Column: clause.Column{Table: "bookmarks", Name: string(field)}, Desc: desc}).
			Order(clause.OrderByColumn{Column: clause.Column{Table: "bookmarks", Name: "id"}, Desc: desc})
	}
}

// ParseSort maps query values to a sort, falling back to newest first
func ParseSort(field, order string) (SortField, SortOrder) {
	f := SortField(strings.ToLower(field))
	switch f {
	case SortCreatedAt, SortUpdatedAt, SortTitle:
	case "createdat":
		f = SortCreatedAt
	case "updatedat":
		f = SortUpdatedAt
	default:
		f = SortCreatedAt
	}
	if strings.EqualFold(order, string(OrderAsc)) {
		return f, OrderAsc
	}
	return f, OrderDesc
}

// VisiblePages returns the page numbers to link to: at most limit pages,
// centred on current where possible
func VisiblePages(current, totalPages, limit int) []int {
	if totalPages <= 0 || limit <= 0 {
		return []int{}
	}
	n := min(totalPages, limit)
	start := current - n/2
	if start+n-1 > totalPages {
		start = totalPages - n + 1
	}
	if start < 1 {
		start = 1
	}

	pages := make([]int, n)
	for i := range pages {
		pages[i] = start + i
	}
	return pages
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes s match literally inside a LIKE pattern using '\' as
// the escape character
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
