package hr

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"

	"rhgestor.org/internal/apperr"
)

// Setting keys that shape the document upload policy.
const (
	SettingMaxFiles          = "maxFiles"
	SettingMaxFileSizeMB     = "maxFileSizeMB"
	SettingAllowedMimeTypes  = "allowedMimeTypes"
	SettingAllowedExtensions = "allowedExtensions"
)

// UploadPolicy bounds document uploads.
type UploadPolicy struct {
	MaxFiles          int
	MaxFileSize       int64
	AllowedMIMETypes  []string
	AllowedExtensions []string
}

// DefaultUploadPolicy applies when no setting overrides a limit.
func DefaultUploadPolicy() UploadPolicy {
	return UploadPolicy{
		MaxFiles:    10,
		MaxFileSize: 10 << 20,
		AllowedMIMETypes: []string{
			"application/pdf",
			"image/jpeg",
			"image/png",
			"application/msword",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			"application/vnd.ms-excel",
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		},
		AllowedExtensions: []string{".pdf", ".jpg", ".jpeg", ".png", ".doc", ".docx", ".xls", ".xlsx"},
	}
}

// Allows reports whether a file with the given name and content type passes
// the type checks. Both the extension and the MIME type must be listed.
func (p UploadPolicy) Allows(filename, contentType string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	mime := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	return containsFold(p.AllowedExtensions, ext) && containsFold(p.AllowedMIMETypes, mime)
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

// SettingsService manages key/value configuration entries.
type SettingsService struct {
	store SettingsStore
}

func NewSettingsService(store SettingsStore) *SettingsService {
	return &SettingsService{store: store}
}

// Upsert creates or replaces the entry for key. created reports whether the
// key was new.
func (s *SettingsService) Upsert(ctx context.Context, key string, value json.RawMessage, description string) (Setting, bool, error) {
	key = strings.TrimSpace(key)
	var v apperr.ValidationError
	if key == "" {
		v.Add("key", "key is required")
	}
	if len(value) == 0 {
		v.Add("value", "value is required")
	} else if !json.Valid(value) {
		v.Add("value", "value must be valid JSON")
	}
	if err := v.Err(); err != nil {
		return Setting{}, false, err
	}
	st := Setting{Key: key, Value: value, Description: strings.TrimSpace(description)}
	created, err := s.store.UpsertSetting(ctx, &st)
	if err != nil {
		return Setting{}, false, err
	}
	return st, created, nil
}

func (s *SettingsService) Get(ctx context.Context, key string) (Setting, error) {
	st, err := s.store.Setting(ctx, key)
	if err != nil {
		return Setting{}, notFoundSetting(err, key)
	}
	return st, nil
}

func (s *SettingsService) List(ctx context.Context) ([]Setting, error) {
	rows, err := s.store.ListSettings(ctx)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []Setting{}
	}
	return rows, nil
}

func (s *SettingsService) Delete(ctx context.Context, key string) error {
	if err := s.store.DeleteSetting(ctx, key); err != nil {
		return notFoundSetting(err, key)
	}
	return nil
}

// UploadPolicy resolves the active upload limits. Missing or malformed
// entries fall back to DefaultUploadPolicy.
func (s *SettingsService) UploadPolicy(ctx context.Context) (UploadPolicy, error) {
	p := DefaultUploadPolicy()
	if s == nil || s.store == nil {
		return p, nil
	}
	var n int
	if ok, err := s.decode(ctx, SettingMaxFiles, &n); err != nil {
		return p, err
	} else if ok && n > 0 {
		p.MaxFiles = n
	}
	var mb float64
	if ok, err := s.decode(ctx, SettingMaxFileSizeMB, &mb); err != nil {
		return p, err
	} else if ok && mb > 0 {
		p.MaxFileSize = int64(mb * (1 << 20))
	}
	var list []string
	if ok, err := s.decode(ctx, SettingAllowedMimeTypes, &list); err != nil {
		return p, err
	} else if ok && len(list) > 0 {
		p.AllowedMIMETypes = list
	}
	list = nil
	if ok, err := s.decode(ctx, SettingAllowedExtensions, &list); err != nil {
		return p, err
	} else if ok && len(list) > 0 {
		for i, ext := range list {
			if !strings.HasPrefix(ext, ".") {
				list[i] = "." + ext
			}
		}
		p.AllowedExtensions = list
	}
	return p, nil
}

func (s *SettingsService) decode(ctx context.Context, key string, dst any) (bool, error) {
	st, err := s.store.Setting(ctx, key)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if json.Unmarshal(st.Value, dst) != nil {
		return false, nil
	}
	return true, nil
}

func notFoundSetting(err error, key string) error {
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.NotFound("setting %q not found", key)
	}
	return err
}
