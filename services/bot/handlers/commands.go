// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/TyanRL/telegram-bot/services/telegram"
)

const startReply = "Привет! Я ассистент: отвечаю на вопросы, распознаю голосовые " +
	"сообщения и картинки, подсказываю погоду, веду заметки и ищу в интернете.\n" +
	"Команды: /reset — сбросить контекст, /info — состояние разговора, " +
	"/location — поделиться геолокацией."

// handleCommand routes slash commands. Management commands are
// restricted to administrators; everyone else gets the unknown-command
// reply so the admin surface stays invisible.
func (h *Handler) handleCommand(ctx context.Context, chatID int64, msg *telegram.Message) {
	userID := msg.From.ID
	command := firstWord(msg.Text)
	args := strings.TrimSpace(strings.TrimPrefix(msg.Text, command))

	// "/cmd@botname" addressing in group chats.
	if i := strings.IndexByte(command, '@'); i >= 0 {
		command = command[:i]
	}

	slog.Info("Handling command", "user_id", userID, "command", command)

	switch command {
	case "/start":
		h.send(ctx, chatID, startReply)

	case "/reset":
		h.engine.Reset(userID)
		h.serviceMessage(ctx, chatID, "Контекст разговора сброшен.")

	case "/info":
		h.send(ctx, chatID, fmt.Sprintf(
			"Модель: %s\nСообщений в истории: %d\nВерсия бота: %s",
			h.history.SelectedModel(userID), h.engine.StoredLen(userID), h.version))

	case "/location":
		if err := h.tg.RequestLocation(ctx, chatID); err != nil {
			slog.Error("Failed to request location", "chat_id", chatID, "error", err)
		}

	case "/last_session":
		h.requireAdmin(ctx, chatID, userID, func() {
			h.commandLastSession(ctx, chatID)
		})

	case "/add":
		h.requireAdmin(ctx, chatID, userID, func() {
			h.commandAdd(ctx, chatID, args)
		})

	case "/remove":
		h.requireAdmin(ctx, chatID, userID, func() {
			h.commandRemove(ctx, chatID, args)
		})

	case "/list":
		h.requireAdmin(ctx, chatID, userID, func() {
			h.send(ctx, chatID, fmt.Sprintf(
				"Администраторы: %s\nПользователи: %s",
				formatUserList(h.access.Admins()), formatUserList(h.access.Users())))
		})

	default:
		h.send(ctx, chatID, "Неизвестная команда. Доступные команды: /start, /reset, /info, /location.")
	}
}

func (h *Handler) requireAdmin(ctx context.Context, chatID, userID int64, run func()) {
	if !h.access.IsAdmin(userID) {
		h.send(ctx, chatID, "Неизвестная команда. Доступные команды: /start, /reset, /info, /location.")
		return
	}
	run()
}

func (h *Handler) commandLastSession(ctx context.Context, chatID int64) {
	records := h.tracker.All()
	if len(records) == 0 {
		h.send(ctx, chatID, "Пока не было ни одной сессии.")
		return
	}

	var b strings.Builder
	b.WriteString("Последние сессии:\n")
	for _, rec := range records {
		name := rec.Username
		if name == "" {
			name = "без имени"
		}
		fmt.Fprintf(&b, "%d (%s): %s\n", rec.UserID, name,
			rec.LastSeen.Format("2006-01-02 15:04:05"))
	}
	h.send(ctx, chatID, strings.TrimSpace(b.String()))
}

func (h *Handler) commandAdd(ctx context.Context, chatID int64, args string) {
	id, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil {
		h.send(ctx, chatID, "Использование: /add <id пользователя>")
		return
	}
	if err := h.access.Add(ctx, id); err != nil {
		slog.Error("Failed to add user", "user_id", id, "error", err)
		h.send(ctx, chatID, "Не удалось добавить пользователя, попробуйте позже.")
		return
	}
	h.send(ctx, chatID, fmt.Sprintf("Пользователь %d добавлен.", id))
}

func (h *Handler) commandRemove(ctx context.Context, chatID int64, args string) {
	id, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil {
		h.send(ctx, chatID, "Использование: /remove <id пользователя>")
		return
	}
	if err := h.access.Remove(ctx, id); err != nil {
		slog.Error("Failed to remove user", "user_id", id, "error", err)
		h.send(ctx, chatID, "Не удалось удалить пользователя, попробуйте позже.")
		return
	}
	h.send(ctx, chatID, fmt.Sprintf("Пользователь %d удалён.", id))
}
