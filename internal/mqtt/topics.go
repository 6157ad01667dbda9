package mqtt

import (
	"fmt"

	"github.com/nutechsoftware/alarmdecoder/internal/util"
)

type Topics struct {
	prefix string
}

func NewTopics(prefix string) *Topics {
	return &Topics{prefix: prefix}
}

func (t *Topics) Status() string {
	return fmt.Sprintf("%s/status", t.prefix)
}

func (t *Topics) Config() string {
	return fmt.Sprintf("%s/config", t.prefix)
}

func (t *Topics) Panel() string {
	return fmt.Sprintf("%s/panel", t.prefix)
}

func (t *Topics) Zone(name string) string {
	return fmt.Sprintf("%s/zone/%s", t.prefix, util.Slugify(name))
}

func (t *Topics) Log() string {
	return fmt.Sprintf("%s/log", t.prefix)
}

func (t *Topics) Command() string {
	return fmt.Sprintf("%s/command", t.prefix)
}

func (t *Topics) Keypad() string {
	return fmt.Sprintf("%s/keypad", t.prefix)
}
