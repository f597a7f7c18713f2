// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/TyanRL/telegram-bot/services/bot/conversation"
	"github.com/TyanRL/telegram-bot/services/geocode"
	"github.com/TyanRL/telegram-bot/services/llm"
	"github.com/TyanRL/telegram-bot/services/notes"
)

// ErrUnknownTool reports a tool call naming a capability outside the
// registry. The caller decides how to degrade.
var ErrUnknownTool = errors.New("unknown tool")

// OutcomeKind tells the turn engine what to do after a tool ran.
type OutcomeKind int

const (
	// OutcomeTerminal ends the turn; Reply (possibly empty) goes to the
	// user as-is with no further model call.
	OutcomeTerminal OutcomeKind = iota

	// OutcomeInject appends SystemFact to the history and asks the model
	// again with the new fact visible.
	OutcomeInject

	// OutcomeSilent ends the turn with no reply at all; any user-visible
	// effect already happened out of band.
	OutcomeSilent
)

// Outcome is the result of one dispatched tool call.
type Outcome struct {
	Kind       OutcomeKind
	Reply      string
	SystemFact string
}

// WeatherProvider serves current conditions and weekly forecasts.
type WeatherProvider interface {
	CurrentWeather(ctx context.Context, latitude, longitude float64) (string, error)
	WeeklyForecast(ctx context.Context, latitude, longitude float64) (string, error)
}

// Geocoder resolves free-form addresses to coordinates.
type Geocoder interface {
	Forward(ctx context.Context, address string) (*geocode.Point, error)
}

// NoteIndex is the per-user note store.
type NoteIndex interface {
	Add(ctx context.Context, userID int64, title, body string, tags []string) (string, error)
	Search(ctx context.Context, userID int64, query string, from, to *time.Time) ([]notes.Note, error)
	All(ctx context.Context, userID int64) ([]notes.Note, error)
	Delete(ctx context.Context, userID int64, ids []string) (int, error)
}

// WebSearcher runs web searches.
type WebSearcher interface {
	Search(ctx context.Context, query string) (string, int, error)
}

// ImageGenerator renders images from prompts. Implemented by the
// completion client.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt, style string) (string, error)
}

// Notifier delivers out-of-band effects to the user through the
// messenger transport.
type Notifier interface {
	RequestLocation(ctx context.Context, userID int64) error
	SendServiceMessage(ctx context.Context, userID int64, text string) error
	SendImage(ctx context.Context, userID int64, url, caption string) error
}

type handlerFunc func(ctx context.Context, userID int64, rawArgs string) (Outcome, error)

// Dispatcher routes model tool calls to the backing services and maps
// every result, including failures, to a turn outcome. It never returns
// an internal error to the user; failed capabilities degrade to a
// terminal apology naming what went wrong.
type Dispatcher struct {
	weather  WeatherProvider
	geocoder Geocoder
	notes    NoteIndex
	searcher WebSearcher
	images   ImageGenerator
	notifier Notifier
	history  *conversation.Manager
	catalog  *llm.Catalog

	handlers map[string]handlerFunc
}

// NewDispatcher wires the tool handlers. Any collaborator may be nil;
// its tools then degrade to a terminal "capability unavailable" reply.
func NewDispatcher(
	weather WeatherProvider,
	geocoder Geocoder,
	noteIndex NoteIndex,
	searcher WebSearcher,
	images ImageGenerator,
	notifier Notifier,
	history *conversation.Manager,
	catalog *llm.Catalog,
) *Dispatcher {
	d := &Dispatcher{
		weather:  weather,
		geocoder: geocoder,
		notes:    noteIndex,
		searcher: searcher,
		images:   images,
		notifier: notifier,
		history:  history,
		catalog:  catalog,
	}
	d.handlers = map[string]handlerFunc{
		NameRequestGeolocation: d.requestGeolocation,
		NameCurrentWeather:     d.currentWeather,
		NameWeeklyForecast:     d.weeklyForecast,
		NameLocationByAddress:  d.locationByAddress,
		NameGenerateImage:      d.generateImage,
		NameChangeModel:        d.changeModel,
		NameAddNote:            d.addNote,
		NameSearchNotes:        d.searchNotes,
		NameGetNotes:           d.getNotes,
		NameDeleteNotes:        d.deleteNotes,
		NameGoogleSearch:       d.googleSearch,
	}
	return d
}

// Dispatch runs one tool call. It returns ErrUnknownTool for names
// outside the registry; every other path yields a usable outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, userID int64, call llm.ToolCall) (Outcome, error) {
	handler, ok := d.handlers[call.Name]
	if !ok {
		slog.Warn("Model requested an unknown tool", "tool", call.Name)
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
	}

	outcome, err := handler(ctx, userID, call.Arguments)
	if err == nil {
		return outcome, nil
	}

	var argErr *ArgumentError
	if errors.As(err, &argErr) {
		slog.Warn("Tool call had invalid arguments", "tool", call.Name, "error", err)
		return Outcome{
			Kind:  OutcomeTerminal,
			Reply: "Извините, я неправильно сформировал запрос к инструменту. Попробуйте переформулировать.",
		}, nil
	}

	slog.Error("Tool call failed", "tool", call.Name, "user_id", userID, "error", err)
	return Outcome{Kind: OutcomeTerminal, Reply: failureReply(call.Name)}, nil
}

// failureReply names the broken capability in user terms.
func failureReply(tool string) string {
	switch tool {
	case NameCurrentWeather:
		return "Извините, не удалось получить данные о погоде."
	case NameWeeklyForecast:
		return "Извините, не удалось получить прогноз погоды."
	case NameLocationByAddress:
		return "Извините, не удалось определить координаты адреса."
	case NameGenerateImage:
		return "Извините, не удалось сгенерировать изображение."
	case NameAddNote, NameSearchNotes, NameGetNotes, NameDeleteNotes:
		return "Извините, сервис заметок сейчас недоступен."
	case NameGoogleSearch:
		return "Извините, поиск в интернете сейчас недоступен."
	case NameRequestGeolocation:
		return "Извините, не удалось запросить геолокацию."
	default:
		return "Извините, произошла ошибка при выполнении запроса."
	}
}

func (d *Dispatcher) requestGeolocation(ctx context.Context, userID int64, _ string) (Outcome, error) {
	if d.notifier == nil {
		return Outcome{}, fmt.Errorf("no notifier configured")
	}
	if err := d.notifier.RequestLocation(ctx, userID); err != nil {
		return Outcome{}, err
	}
	// The turn resumes when the user answers with a location update.
	return Outcome{Kind: OutcomeSilent}, nil
}

func (d *Dispatcher) currentWeather(ctx context.Context, userID int64, raw string) (Outcome, error) {
	args, err := decodeArgs[coordinateArgs](NameCurrentWeather, raw)
	if err != nil {
		return Outcome{}, err
	}
	if d.weather == nil {
		return Outcome{}, fmt.Errorf("no weather provider configured")
	}
	report, err := d.weather.CurrentWeather(ctx, *args.Latitude, *args.Longitude)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Kind: OutcomeInject, SystemFact: report}, nil
}

func (d *Dispatcher) weeklyForecast(ctx context.Context, userID int64, raw string) (Outcome, error) {
	args, err := decodeArgs[coordinateArgs](NameWeeklyForecast, raw)
	if err != nil {
		return Outcome{}, err
	}
	if d.weather == nil {
		return Outcome{}, fmt.Errorf("no weather provider configured")
	}
	forecast, err := d.weather.WeeklyForecast(ctx, *args.Latitude, *args.Longitude)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Kind:       OutcomeInject,
		SystemFact: "Прогноз погоды на неделю:\n" + forecast,
	}, nil
}

func (d *Dispatcher) locationByAddress(ctx context.Context, userID int64, raw string) (Outcome, error) {
	args, err := decodeArgs[addressArgs](NameLocationByAddress, raw)
	if err != nil {
		return Outcome{}, err
	}
	if d.geocoder == nil {
		return Outcome{}, fmt.Errorf("no geocoder configured")
	}
	point, err := d.geocoder.Forward(ctx, args.Address)
	if err != nil {
		return Outcome{}, err
	}
	if point == nil {
		return Outcome{
			Kind:  OutcomeTerminal,
			Reply: fmt.Sprintf("Не удалось найти адрес «%s».", args.Address),
		}, nil
	}
	return Outcome{
		Kind: OutcomeInject,
		SystemFact: fmt.Sprintf("Координаты адреса «%s»: широта %.6f, долгота %.6f.",
			args.Address, point.Latitude, point.Longitude),
	}, nil
}

func (d *Dispatcher) generateImage(ctx context.Context, userID int64, raw string) (Outcome, error) {
	args, err := decodeArgs[imageArgs](NameGenerateImage, raw)
	if err != nil {
		return Outcome{}, err
	}
	if d.images == nil || d.notifier == nil {
		return Outcome{}, fmt.Errorf("no image generator configured")
	}
	url, err := d.images.GenerateImage(ctx, args.Prompt, args.Style)
	if err != nil {
		return Outcome{}, err
	}
	if err := d.notifier.SendImage(ctx, userID, url, ""); err != nil {
		return Outcome{}, err
	}
	// The image itself is the reply.
	return Outcome{Kind: OutcomeTerminal}, nil
}

func (d *Dispatcher) changeModel(ctx context.Context, userID int64, raw string) (Outcome, error) {
	args, err := decodeArgs[modelArgs](NameChangeModel, raw)
	if err != nil {
		return Outcome{}, err
	}
	if !d.catalog.Known(args.Model) {
		return Outcome{
			Kind: OutcomeTerminal,
			Reply: fmt.Sprintf("Неизвестная модель «%s». Доступные модели: %s.",
				args.Model, strings.Join(d.catalog.Names(), ", ")),
		}, nil
	}
	if d.history.SelectedModel(userID) == args.Model {
		return Outcome{Kind: OutcomeSilent}, nil
	}

	d.history.SetModel(userID, args.Model)
	slog.Info("Switched model", "user_id", userID, "model", args.Model)
	if d.notifier != nil {
		if err := d.notifier.SendServiceMessage(ctx, userID,
			fmt.Sprintf("Модель изменена на %s.", args.Model)); err != nil {
			slog.Warn("Failed to announce model switch", "user_id", userID, "error", err)
		}
	}
	return Outcome{Kind: OutcomeSilent}, nil
}

func (d *Dispatcher) addNote(ctx context.Context, userID int64, raw string) (Outcome, error) {
	args, err := decodeArgs[addNoteArgs](NameAddNote, raw)
	if err != nil {
		return Outcome{}, err
	}
	if d.notes == nil {
		return Outcome{}, fmt.Errorf("no note index configured")
	}
	if _, err := d.notes.Add(ctx, userID, args.Title, args.Body, args.Tags); err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Kind:  OutcomeTerminal,
		Reply: fmt.Sprintf("Заметка «%s» сохранена.", args.Title),
	}, nil
}

func (d *Dispatcher) searchNotes(ctx context.Context, userID int64, raw string) (Outcome, error) {
	args, err := decodeArgs[searchNotesArgs](NameSearchNotes, raw)
	if err != nil {
		return Outcome{}, err
	}
	if d.notes == nil {
		return Outcome{}, fmt.Errorf("no note index configured")
	}
	from, to := args.Window()
	found, err := d.notes.Search(ctx, userID, args.Query, from, to)
	if err != nil {
		return Outcome{}, err
	}
	if len(found) == 0 {
		return Outcome{
			Kind:  OutcomeTerminal,
			Reply: fmt.Sprintf("По запросу «%s» заметки не найдены.", args.Query),
		}, nil
	}
	return Outcome{
		Kind:       OutcomeInject,
		SystemFact: "Найденные заметки пользователя:\n" + renderNotes(found),
	}, nil
}

func (d *Dispatcher) getNotes(ctx context.Context, userID int64, _ string) (Outcome, error) {
	if d.notes == nil {
		return Outcome{}, fmt.Errorf("no note index configured")
	}
	found, err := d.notes.All(ctx, userID)
	if err != nil {
		return Outcome{}, err
	}
	if len(found) == 0 {
		return Outcome{Kind: OutcomeTerminal, Reply: "У вас пока нет заметок."}, nil
	}
	return Outcome{
		Kind:       OutcomeInject,
		SystemFact: "Все заметки пользователя:\n" + renderNotes(found),
	}, nil
}

func (d *Dispatcher) deleteNotes(ctx context.Context, userID int64, raw string) (Outcome, error) {
	args, err := decodeArgs[deleteNotesArgs](NameDeleteNotes, raw)
	if err != nil {
		return Outcome{}, err
	}
	if d.notes == nil {
		return Outcome{}, fmt.Errorf("no note index configured")
	}
	deleted, err := d.notes.Delete(ctx, userID, args.IDs)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Kind:  OutcomeTerminal,
		Reply: fmt.Sprintf("Удалено заметок: %d.", deleted),
	}, nil
}

func (d *Dispatcher) googleSearch(ctx context.Context, userID int64, raw string) (Outcome, error) {
	args, err := decodeArgs[searchArgs](NameGoogleSearch, raw)
	if err != nil {
		return Outcome{}, err
	}
	if d.searcher == nil {
		return Outcome{}, fmt.Errorf("no web searcher configured")
	}
	results, count, err := d.searcher.Search(ctx, args.Query)
	if err != nil {
		return Outcome{}, err
	}
	if count == 0 {
		return Outcome{
			Kind:  OutcomeTerminal,
			Reply: fmt.Sprintf("По запросу «%s» в интернете ничего не найдено.", args.Query),
		}, nil
	}
	return Outcome{
		Kind: OutcomeInject,
		SystemFact: fmt.Sprintf("Результаты поиска в интернете по запросу «%s»:\n\n%s",
			args.Query, results),
	}, nil
}

// renderNotes formats notes as a numbered listing with identifiers so the
// model can quote or delete them later.
func renderNotes(list []notes.Note) string {
	var b strings.Builder
	for i, n := range list {
		fmt.Fprintf(&b, "%d. [id: %s] %s\n%s\n", i+1, n.ID, n.Title, n.Body)
		if len(n.Tags) > 0 {
			fmt.Fprintf(&b, "Теги: %s\n", strings.Join(n.Tags, ", "))
		}
		fmt.Fprintf(&b, "Создана: %s\n\n", n.Created.Format("2006-01-02 15:04"))
	}
	return strings.TrimSpace(b.String())
}
