package dto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFrame_NullFields(t *testing.T) {
	data, err := json.Marshal(NewErrorFrame(0, "bad", ""))
	require.NoError(t, err)
	assert.JSONEq(t, `{"chatRoomId":null,"message":"bad","code":null}`, string(data))

	data, err = json.Marshal(NewErrorFrame(7, "bad", "INVALID_MESSAGE_FORMAT"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"chatRoomId":7,"message":"bad","code":"INVALID_MESSAGE_FORMAT"}`, string(data))
}

func TestPage_HasNext(t *testing.T) {
	p := &Page[ChatRoom]{Page: 0, Size: 100, Total: 150}
	assert.True(t, p.HasNext())
	p.Page = 1
	assert.False(t, p.HasNext())
	assert.False(t, (&Page[ChatRoom]{Page: 0, Size: 100, Total: 100}).HasNext())
}
