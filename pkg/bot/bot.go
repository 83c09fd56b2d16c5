package bot

import (
	"fmt"
	"log"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Client struct {
	api  *tgbotapi.BotAPI
	Self *tgbotapi.User
}

func NewClient(token string) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("bot token cannot be empty")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot api instance: %w", err)
	}

	api.Debug = false

	log.Printf("Verifying API token...")
	ok, err := api.GetMe()
	if err != nil {
		return nil, fmt.Errorf("failed to verify bot token with GetMe(): %w", err)
	}
	log.Printf("Token verified successfully.")

	client := &Client{
		api:  api,
		Self: &ok,
	}

	return client, nil
}

func (c *Client) SendMessage(chatID int64, text string, markup interface{}) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)

	msg.ParseMode = ""

	msg.DisableWebPagePreview = true
	if markup != nil {
		msg.ReplyMarkup = markup
	}

	sentMsg, err := c.api.Send(msg)
	if err != nil {
		return tgbotapi.Message{}, fmt.Errorf("failed to send message to chat %d: %w", chatID, err)
	}
	return sentMsg, nil
}

func (c *Client) EditMessageText(chatID int64, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup) (tgbotapi.Message, error) {
	if messageID == 0 {
		log.Printf("Warning: EditMessageText called with messageID=0 for chat %d. Sending new message instead.", chatID)
		return c.SendMessage(chatID, text, markup)
	}

	msg := tgbotapi.NewEditMessageText(chatID, messageID, text)

	msg.ParseMode = ""
	if markup != nil {
		msg.ReplyMarkup = markup
	}

	sentMsg, err := c.api.Send(msg)
	if err != nil {

		if strings.Contains(err.Error(), "message is not modified") {
			log.Printf("Message %d in chat %d was not modified, ignoring error.", messageID, chatID)

			return tgbotapi.Message{MessageID: messageID, Chat: &tgbotapi.Chat{ID: chatID}}, nil
		}
		return tgbotapi.Message{}, fmt.Errorf("failed to edit message %d: %w", messageID, err)
	}
	return sentMsg, nil
}

func (c *Client) AnswerCallback(callbackID string, text string) error {
	if callbackID == "" {
		return fmt.Errorf("callbackID cannot be empty")
	}
	callbackCfg := tgbotapi.NewCallback(callbackID, text)

	_, err := c.api.Request(callbackCfg)
	if err != nil {
		return fmt.Errorf("failed to answer callback query %s: %w", callbackID, err)
	}
	return nil
}

func (c *Client) GetUpdatesChan(timeout int) tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeout
	u.AllowedUpdates = []string{"message", "callback_query"}

	return c.api.GetUpdatesChan(u)
}

func (c *Client) StopReceivingUpdates() {
	c.api.StopReceivingUpdates()
}

// Command describes one entry of the chat command menu.
type Command struct {
	Name        string
	Description string
}

// SetCommands publishes the command menu shown by Telegram clients.
func (c *Client) SetCommands(commands []Command) error {
	botCommands := make([]tgbotapi.BotCommand, 0, len(commands))
	for _, cmd := range commands {
		botCommands = append(botCommands, tgbotapi.BotCommand{Command: cmd.Name, Description: cmd.Description})
	}
	if _, err := c.api.Request(tgbotapi.NewSetMyCommands(botCommands...)); err != nil {
		return fmt.Errorf("failed to set bot commands: %w", err)
	}
	return nil
}
