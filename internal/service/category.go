package service

import (
	"context"
	"strings"

	"fintrack/internal/apperror"
	"fintrack/internal/model"
	"fintrack/internal/state"
)

// AddCategory はカテゴリを作成する。既にあれば何もしない
func (s *Store) AddCategory(ctx context.Context, c model.Category) error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return apperror.New("名前は必須です")
	}
	if !c.Type.Valid() {
		return apperror.New("区分は INCOME, EXPENSE のいずれかを指定してください")
	}

	s.actMu.Lock()
	defer s.actMu.Unlock()

	if s.Snapshot().HasCategory(c) {
		return nil
	}
	if err := s.gw.InsertCategory(ctx, c); err != nil {
		writesTotal.WithLabelValues("add_category", "error").Inc()
		return err
	}
	writesTotal.WithLabelValues("add_category", "ok").Inc()
	s.dispatch(state.CategoryAdded{Category: c})
	s.log.Print(ctx, "category created", "type", string(c.Type), "name", c.Name)
	return nil
}

// DeleteCategory は (type, name) が一致するカテゴリを削除する。Долги は削除できない
func (s *Store) DeleteCategory(ctx context.Context, c model.Category) error {
	if c.Name == model.DebtsCategory {
		return apperror.Newf("カテゴリ %s は削除できません", model.DebtsCategory)
	}
	if !c.Type.Valid() {
		return apperror.New("区分は INCOME, EXPENSE のいずれかを指定してください")
	}

	s.actMu.Lock()
	defer s.actMu.Unlock()

	if err := s.gw.DeleteCategory(ctx, c); err != nil {
		writesTotal.WithLabelValues("delete_category", "error").Inc()
		return err
	}
	writesTotal.WithLabelValues("delete_category", "ok").Inc()
	s.dispatch(state.CategoryDeleted{Category: c})
	return nil
}
