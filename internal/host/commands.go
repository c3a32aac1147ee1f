package host

import (
	"context"
	"fmt"
	"sync"
)

// CommandHandler handles one websocket command message. The message still
// carries its id and type keys.
type CommandHandler func(ctx context.Context, msg map[string]any) error

type registeredCommand struct {
	handler   CommandHandler
	validator *Validator
}

type Commands struct {
	mu       sync.RWMutex
	commands map[string]registeredCommand
}

func NewCommands() *Commands {
	return &Commands{commands: make(map[string]registeredCommand)}
}

// Register adds a command. The schema describes the payload besides the
// integer id and the type, which every command must carry.
func (c *Commands) Register(commandType string, schema Schema, handler CommandHandler) error {
	schema.Fields = append([]Field{
		Required("id", KindInteger),
		Required("type", KindString),
	}, schema.Fields...)

	validator, err := schema.Compile()
	if err != nil {
		return fmt.Errorf("invalid schema for %s: %w", commandType, err)
	}

	c.mu.Lock()
	c.commands[commandType] = registeredCommand{handler: handler, validator: validator}
	c.mu.Unlock()
	return nil
}

func (c *Commands) Remove(commandType string) {
	c.mu.Lock()
	delete(c.commands, commandType)
	c.mu.Unlock()
}

func (c *Commands) Has(commandType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.commands[commandType]
	return ok
}

func (c *Commands) Handle(ctx context.Context, msg map[string]any) error {
	commandType, _ := msg["type"].(string)

	c.mu.RLock()
	cmd, ok := c.commands[commandType]
	c.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, commandType)
	}
	msg, err := cmd.validator.Validate(msg)
	if err != nil {
		return err
	}
	return cmd.handler(ctx, msg)
}
