package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusFanOutAndUnsubscribe(t *testing.T) {
	b := New[string]()
	var a, c []string

	unsubA := b.Subscribe(func(s string) { a = append(a, s) })
	b.Subscribe(func(s string) { c = append(c, s) })

	b.Publish("one")
	unsubA()
	unsubA()
	b.Publish("two")

	assert.Equal(t, []string{"one"}, a)
	assert.Equal(t, []string{"one", "two"}, c)
	assert.Equal(t, 1, b.Len())
}
