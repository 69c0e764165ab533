package wire

import (
	"testing"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
)

func TestDigest(t *testing.T) {
	require.Equal(t, "5e884898da28047151d0e56f8dc6292773603d0d6aabbdd62a11ef721d1542d8", Digest("password"))
	require.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Digest(""))
}

func TestPasswordLogin(t *testing.T) {
	text, err := Encode(Msg(TypeMethod), Method("login"), ID("1"), Params([]any{PasswordLogin{
		User:     User{Email: "a@b.c"},
		Password: Password("password"),
	}}))
	require.NoError(t, err)
	require.JSONEq(t, `{
		"msg": "method",
		"method": "login",
		"id": "1",
		"params": [{
			"user": {"email": "a@b.c"},
			"password": {"digest": "5e884898da28047151d0e56f8dc6292773603d0d6aabbdd62a11ef721d1542d8", "algorithm": "sha-256"}
		}]
	}`, text)
	require.NotContains(t, text, `"password":"password"`)
}

func TestDate(t *testing.T) {
	var res LoginResult
	require.NoError(t, json.Unmarshal([]byte(`{"id":"u1","token":"t1","tokenExpires":{"$date":1700000000123}}`), &res))
	require.Equal(t, "u1", res.ID)
	require.Equal(t, "t1", res.Token)
	require.Equal(t, time.UnixMilli(1700000000123).UTC(), res.TokenExpires.Time)

	b, err := json.Marshal(res.TokenExpires)
	require.NoError(t, err)
	require.JSONEq(t, `{"$date":1700000000123}`, string(b))
}
