// Package bookmarks stores a user's bookmarks and answers the queries the
// API needs: filtered, sorted and paginated listing, tag aggregation and
// the single-row mutations.
package bookmarks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mikepea/nookmark/pkg/nookmark/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// tagLookupChunk bounds the number of ids bound into a single IN list
const tagLookupChunk = 500

// Options configures paging limits
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
	MaxVisiblePages int
}

// DefaultOptions mirrors the configuration defaults
func DefaultOptions() Options {
	return Options{DefaultPageSize: 50, MaxPageSize: 100, MaxVisiblePages: 7}
}

// Service runs bookmark queries against an explicit database handle
type Service struct {
	db   *gorm.DB
	opts Options
}

// NewService creates a bookmark service. Zero option fields take the
// defaults.
func NewService(db *gorm.DB, opts Options) *Service {
	def := DefaultOptions()
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = def.DefaultPageSize
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = def.MaxPageSize
	}
	if opts.DefaultPageSize > opts.MaxPageSize {
		opts.DefaultPageSize = opts.MaxPageSize
	}
	if opts.MaxVisiblePages <= 0 {
		opts.MaxVisiblePages = def.MaxVisiblePages
	}
	return &Service{db: db, opts: opts}
}

// Item is a bookmark together with its tag names, sorted by name
type Item struct {
	models.Bookmark
	Tags []string `json:"tags"`
}

// TagCount is a tag with the number of live bookmarks carrying it
type TagCount struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Color *string `json:"color,omitempty"`
	Count int64   `json:"count"`
}

// CreateParams describes a new bookmark. Empty Description and Favicon are
// stored as NULL. CreatedAt is only set by importers that keep the
// original timestamp.
type CreateParams struct {
	UserID      uint
	URL         string
	Title       string
	Description string
	Favicon     string
	Starred     bool
	Tags        []string
	CreatedAt   *time.Time
}

// UpdateParams holds a partial update. Nil fields are left untouched; a
// non-nil Tags replaces the whole tag set, so an empty slice clears it.
type UpdateParams struct {
	Title       *string
	Description *string
	Starred     *bool
	Tags        *[]string
}

// Create saves a bookmark and attaches its tags, creating tags the user
// has not used before
func (s *Service) Create(ctx context.Context, p CreateParams) (*Item, error) {
	b := models.Bookmark{
		UserID:      p.UserID,
		URL:         p.URL,
		Title:       p.Title,
		Description: nullable(p.Description),
		Favicon:     nullable(p.Favicon),
		Starred:     p.Starred,
	}
	if p.CreatedAt != nil {
		b.CreatedAt = *p.CreatedAt
		b.UpdatedAt = *p.CreatedAt
	}

	var tagNames []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Early rejection for a clear error; the partial unique index is
		// what actually guarantees uniqueness
		var n int64
		if err := tx.Model(&models.Bookmark{}).
			Where("user_id = ? AND url = ?", p.UserID, p.URL).
			Count(&n).Error; err != nil {
			return fmt.Errorf("checking for existing bookmark: %w", err)
		}
		if n > 0 {
			return &DuplicateError{URL: p.URL}
		}

		if err := tx.Create(&b).Error; err != nil {
			if isUniqueViolation(err) {
				return &DuplicateError{URL: p.URL}
			}
			return fmt.Errorf("inserting bookmark: %w", err)
		}

		names, err := attachTags(tx, b.ID, p.UserID, p.Tags)
		if err != nil {
			return err
		}
		tagNames = names
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Item{Bookmark: b, Tags: tagNames}, nil
}

// GetByID returns the user's bookmark, or *NotFoundError when it does not
// exist, is deleted or belongs to someone else
func (s *Service) GetByID(ctx context.Context, id string, userID uint) (*Item, error) {
	return getByID(s.db.WithContext(ctx), id, userID)
}

func getByID(db *gorm.DB, id string, userID uint) (*Item, error) {
	var b models.Bookmark
	if err := db.Where("id = ? AND user_id = ?", id, userID).First(&b).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{ID: id}
		}
		return nil, fmt.Errorf("loading bookmark: %w", err)
	}
	items, err := withTags(db, []models.Bookmark{b})
	if err != nil {
		return nil, err
	}
	return &items[0], nil
}

// Update applies a partial update. Field changes and tag replacement
// happen in one transaction.
func (s *Service) Update(ctx context.Context, id string, userID uint, p UpdateParams) (*Item, error) {
	var item *Item
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		changes := map[string]any{"updated_at": time.Now()}
		if p.Title != nil {
			changes["title"] = *p.Title
		}
		if p.Description != nil {
			changes["description"] = nullable(*p.Description)
		}
		if p.Starred != nil {
			changes["starred"] = *p.Starred
		}

		res := tx.Model(&models.Bookmark{}).
			Where("id = ? AND user_id = ?", id, userID).
			Updates(changes)
		if res.Error != nil {
			return fmt.Errorf("updating bookmark: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return &NotFoundError{ID: id}
		}

		if p.Tags != nil {
			if err := tx.Where("bookmark_id = ?", id).Delete(&models.BookmarkTag{}).Error; err != nil {
				return fmt.Errorf("clearing tags: %w", err)
			}
			if _, err := attachTags(tx, id, userID, *p.Tags); err != nil {
				return err
			}
		}

		var err error
		item, err = getByID(tx, id, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// ToggleStar flips the starred flag in a single statement
func (s *Service) ToggleStar(ctx context.Context, id string, userID uint) (*Item, error) {
	return s.flip(ctx, id, userID, map[string]any{
		"starred": gorm.Expr("NOT starred"),
	})
}

// ToggleArchive archives a bookmark, or unarchives it when already
// archived, in a single statement
func (s *Service) ToggleArchive(ctx context.Context, id string, userID uint) (*Item, error) {
	return s.flip(ctx, id, userID, map[string]any{
		"archived_at": gorm.Expr("CASE WHEN archived_at IS NULL THEN ? ELSE NULL END", time.Now()),
	})
}

func (s *Service) flip(ctx context.Context, id string, userID uint, changes map[string]any) (*Item, error) {
	changes["updated_at"] = time.Now()
	db := s.db.WithContext(ctx)

	res := db.Model(&models.Bookmark{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(changes)
	if res.Error != nil {
		return nil, fmt.Errorf("updating bookmark: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, &NotFoundError{ID: id}
	}
	return getByID(db, id, userID)
}

// SoftDelete marks the bookmark deleted. Deleting an already deleted
// bookmark returns *NotFoundError.
func (s *Service) SoftDelete(ctx context.Context, id string, userID uint) error {
	n, err := s.softDelete(ctx, userID, "id = ?", id)
	if err != nil {
		return err
	}
	if n == 0 {
		return &NotFoundError{ID: id}
	}
	return nil
}

// BatchSoftDelete marks every listed bookmark the user owns as deleted and
// returns how many were. Unknown, foreign and already deleted ids are
// skipped.
func (s *Service) BatchSoftDelete(ctx context.Context, ids []string, userID uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return s.softDelete(ctx, userID, "id IN ?", ids)
}

func (s *Service) softDelete(ctx context.Context, userID uint, cond string, arg any) (int64, error) {
	now := time.Now()
	// The soft delete scope adds deleted_at IS NULL to the update
	res := s.db.WithContext(ctx).Model(&models.Bookmark{}).
		Where(cond, arg).
		Where("user_id = ?", userID).
		Updates(map[string]any{"deleted_at": now, "updated_at": now})
	if res.Error != nil {
		return 0, fmt.Errorf("deleting bookmarks: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ListUserTags returns every tag of the user with the number of live
// bookmarks (archived included) carrying it, most used first
func (s *Service) ListUserTags(ctx context.Context, userID uint) ([]TagCount, error) {
	tags := []TagCount{}
	err := s.db.WithContext(ctx).Table("tags").
		Select("tags.id, tags.name, tags.color, COUNT(bookmarks.id) AS count").
		Joins("LEFT JOIN bookmark_tags ON bookmark_tags.tag_id = tags.id").
		Joins("LEFT JOIN bookmarks ON bookmarks.id = bookmark_tags.bookmark_id AND bookmarks.deleted_at IS NULL").
		Where("tags.user_id = ?", userID).
		Group("tags.id, tags.name, tags.color").
		Order("count DESC, tags.name ASC").
		Scan(&tags).Error
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	return tags, nil
}

// Stats summarises a user's collection
type Stats struct {
	Total    int64 `json:"total"`
	Starred  int64 `json:"starred"`
	Archived int64 `json:"archived"`
	Tags     int64 `json:"tags"`
}

// Stats counts the user's live bookmarks and tags
func (s *Service) Stats(ctx context.Context, userID uint) (*Stats, error) {
	db := s.db.WithContext(ctx)
	var st Stats
	err := db.Model(&models.Bookmark{}).
		Select("COUNT(*) AS total, "+
			"COALESCE(SUM(CASE WHEN starred THEN 1 ELSE 0 END), 0) AS starred, "+
			"COALESCE(SUM(CASE WHEN archived_at IS NOT NULL THEN 1 ELSE 0 END), 0) AS archived").
		Where("user_id = ?", userID).
		Scan(&st).Error
	if err != nil {
		return nil, fmt.Errorf("counting bookmarks: %w", err)
	}
	if err := db.Model(&models.Tag{}).Where("user_id = ?", userID).Count(&st.Tags).Error; err != nil {
		return nil, fmt.Errorf("counting tags: %w", err)
	}
	return &st, nil
}

// ListAll returns all of the user's live bookmarks, archived included,
// oldest first
func (s *Service) ListAll(ctx context.Context, userID uint) ([]Item, error) {
	db := s.db.WithContext(ctx)
	var rows []models.Bookmark
	if err := db.Where("user_id = ?", userID).Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing bookmarks: %w", err)
	}
	return withTags(db, rows)
}

// attachTags resolves names to the user's tags, creating the missing ones,
// and links them to the bookmark. It works on whole sets: one lookup, one
// batch insert of new tags, one batch insert of links. Returns the
// attached names sorted.
func attachTags(tx *gorm.DB, bookmarkID string, userID uint, names []string) ([]string, error) {
	names = uniqueNames(names)
	if len(names) == 0 {
		return []string{}, nil
	}

	tags, err := resolveTags(tx, userID, names)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	links := make([]models.BookmarkTag, 0, len(tags))
	for _, t := range tags {
		links = append(links, models.BookmarkTag{BookmarkID: bookmarkID, TagID: t.ID, CreatedAt: now})
	}
	if err := tx.Omit(clause.Associations).Create(&links).Error; err != nil {
		return nil, fmt.Errorf("linking tags: %w", err)
	}

	sort.Strings(names)
	return names, nil
}

func resolveTags(tx *gorm.DB, userID uint, names []string) ([]models.Tag, error) {
	var tags []models.Tag
	if err := tx.Where("user_id = ? AND name IN ?", userID, names).Find(&tags).Error; err != nil {
		return nil, fmt.Errorf("looking up tags: %w", err)
	}

	have := make(map[string]bool, len(tags))
	for _, t := range tags {
		have[t.Name] = true
	}
	var missing []models.Tag
	for _, name := range names {
		if !have[name] {
			missing = append(missing, models.Tag{UserID: userID, Name: name})
		}
	}
	if len(missing) == 0 {
		return tags, nil
	}

	// Another request may create the same names concurrently; skip those
	// rows and read back what is stored
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&missing).Error; err != nil {
		return nil, fmt.Errorf("creating tags: %w", err)
	}
	tags = nil
	if err := tx.Where("user_id = ? AND name IN ?", userID, names).Find(&tags).Error; err != nil {
		return nil, fmt.Errorf("looking up tags: %w", err)
	}
	return tags, nil
}

type tagRow struct {
	BookmarkID string
	Name       string
}

// withTags loads tag names for the bookmarks with one query per chunk
func withTags(db *gorm.DB, rows []models.Bookmark) ([]Item, error) {
	items := make([]Item, len(rows))
	if len(rows) == 0 {
		return items, nil
	}

	index := make(map[string]int, len(rows))
	ids := make([]string, len(rows))
	for i, b := range rows {
		items[i] = Item{Bookmark: b, Tags: []string{}}
		index[b.ID] = i
		ids[i] = b.ID
	}

	for start := 0; start < len(ids); start += tagLookupChunk {
		end := min(start+tagLookupChunk, len(ids))
		var tagRows []tagRow
		err := db.Table("bookmark_tags").
			Select("bookmark_tags.bookmark_id, tags.name").
			Joins("JOIN tags ON tags.id = bookmark_tags.tag_id").
			Where("bookmark_tags.bookmark_id IN ?", ids[start:end]).
			Order("tags.name ASC").
			Scan(&tagRows).Error
		if err != nil {
			return nil, fmt.Errorf("loading tags: %w", err)
		}
		for _, r := range tagRows {
			i := index[r.BookmarkID]
			items[i].Tags = append(items[i].Tags, r.Name)
		}
	}
	return items, nil
}

// uniqueNames drops empty and repeated names, keeping first-seen order.
// Names are otherwise kept exactly as given.
func uniqueNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
