package service

import (
	"context"

	"fintrack/internal/apperror"
	"fintrack/internal/model"
	"fintrack/internal/state"
)

// SetTheme はテーマを保存する
func (s *Store) SetTheme(ctx context.Context, theme model.Theme) error {
	if !theme.Valid() {
		return apperror.Newf("不明なテーマです: %s", theme)
	}
	s.actMu.Lock()
	defer s.actMu.Unlock()

	settings := s.settings()
	settings.Theme = theme
	if err := s.saveSettings(ctx, settings); err != nil {
		return err
	}
	s.dispatch(state.ThemeSet{Theme: theme})
	return nil
}

// SetLanguage は表示言語を保存する
func (s *Store) SetLanguage(ctx context.Context, lang model.Language) error {
	if !lang.Valid() {
		return apperror.Newf("不明な言語です: %s", lang)
	}
	s.actMu.Lock()
	defer s.actMu.Unlock()

	settings := s.settings()
	settings.Language = lang
	if err := s.saveSettings(ctx, settings); err != nil {
		return err
	}
	s.dispatch(state.LanguageSet{Language: lang})
	return nil
}

func (s *Store) settings() model.Settings {
	snap := s.Snapshot()
	return model.Settings{Theme: snap.Theme, Language: snap.Language}
}

func (s *Store) saveSettings(ctx context.Context, settings model.Settings) error {
	if err := s.gw.SaveSettings(ctx, settings); err != nil {
		writesTotal.WithLabelValues("save_settings", "error").Inc()
		s.log.Error(ctx, "remote write failed", "action", "save_settings", "err", err)
		return err
	}
	writesTotal.WithLabelValues("save_settings", "ok").Inc()
	return nil
}
