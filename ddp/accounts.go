package ddp

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/ridge/ddp/wire"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
)

// Accounts methods of a Meteor server
const (
	methodLogin      = "login"
	methodLogout     = "logout"
	methodCreateUser = "createUser"
)

// ErrNoUser is returned by Signup called with neither email nor username
var ErrNoUser = errors.New("email or username is required")

var emailPattern = regexp.MustCompile(`^[A-Z0-9a-z._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)

// Login logs in with a password. id is taken for an email if it looks like
// one and for a username otherwise.
func (c *Client) Login(id, password string, fn MethodFn) {
	if emailPattern.MatchString(id) {
		c.LoginWithPassword(id, password, fn)
		return
	}
	c.LoginWithUsername(id, password, fn)
}

// LoginWithPassword logs in with the stored token if it is still valid, with
// email and password otherwise
func (c *Client) LoginWithPassword(email, password string, fn MethodFn) {
	c.loginWithPassword(wire.User{Email: email}, password, fn)
}

// LoginWithUsername logs in with the stored token if it is still valid, with
// username and password otherwise
func (c *Client) LoginWithUsername(username, password string, fn MethodFn) {
	c.loginWithPassword(wire.User{Username: username}, password, fn)
}

func (c *Client) loginWithPassword(user wire.User, password string, fn MethodFn) {
	if c.LoginWithToken(fn) {
		return
	}
	c.loginUser(methodLogin, wire.PasswordLogin{User: user, Password: wire.Password(password)}, false, fn)
}

// LoginWithToken logs in with the stored token. Returns false, without
// calling fn, if there is no valid token.
func (c *Client) LoginWithToken(fn MethodFn) bool {
	record, ok := c.loadRecord()
	if !ok {
		return false
	}
	c.loginUser(methodLogin, wire.ResumeLogin{Resume: record.Token}, true, fn)
	return true
}

// Signup creates an account and logs into it. At least one of email and
// username is required.
func (c *Client) Signup(email, username, password string, profile map[string]any, fn MethodFn) error {
	if email == "" && username == "" {
		return ErrNoUser
	}
	if email != "" && !emailPattern.MatchString(email) {
		return fmt.Errorf("invalid email %q", email)
	}
	c.loginUser(methodCreateUser, wire.CreateUser{
		Email:    email,
		Username: username,
		Password: wire.Password(password),
		Profile:  profile,
	}, false, fn)
	return nil
}

// Logout logs out and forgets the stored token
func (c *Client) Logout(fn MethodFn) {
	c.Call(methodLogout, nil, func(result json.RawMessage, err error) {
		if err != nil {
			c.log().Warn("Logout failed", zap.Error(err))
		} else {
			c.clearRecord()
			c.setUserID("")
			c.config.Observer.logout()
		}
		if fn != nil {
			fn(result, err)
		}
	})
}

// UserID returns the id of the logged in user, empty if there is none
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// IsLoggedIn returns true if a user is logged in
func (c *Client) IsLoggedIn() bool {
	return c.UserID() != ""
}

func (c *Client) setUserID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = id
}

func (c *Client) loginUser(method string, param any, resume bool, fn MethodFn) {
	c.Call(method, []any{param}, func(result json.RawMessage, err error) {
		c.loggedIn(result, err, resume)
		if fn != nil {
			fn(result, err)
		}
	})
}

// resumeLogin is called on methods when a session opens. It sends a token
// login ahead of other pending calls if a valid token is stored, and returns
// false otherwise. settled is called after the outcome of the login.
func (c *Client) resumeLogin(settled func()) bool {
	record, ok := c.loadRecord()
	if !ok {
		return false
	}
	c.log().Debug("Resuming login", zap.String("user", record.ID))
	c.issue(NewID(), methodLogin, []any{wire.ResumeLogin{Resume: record.Token}}, func(result json.RawMessage, err error) {
		c.loggedIn(result, err, true)
		if errors.Is(err, ErrDisconnected) {
			// The session is gone, nobody is waiting for it to open
			return
		}
		settled()
	})
	return true
}

// called on methods
func (c *Client) loggedIn(result json.RawMessage, err error, resume bool) {
	if err != nil {
		if resume {
			var serverErr *wire.Error
			if !errors.As(err, &serverErr) {
				c.log().Info("Token login interrupted", zap.Error(err))
				return
			}
			// An invalid token is not coming back
			c.log().Info("Token login failed, logged out", zap.Error(err))
			c.clearRecord()
			c.setUserID("")
			return
		}
		c.log().Warn("Login failed", zap.Error(err))
		return
	}

	var record wire.LoginResult
	if err := json.Unmarshal(result, &record); err != nil || record.ID == "" || record.Token == "" {
		c.log().Warn("Unexpected login result", zap.ByteString("result", result), zap.Error(err))
		return
	}
	c.saveRecord(record)
	c.setUserID(record.ID)
	c.log().Info("Logged in", zap.String("user", record.ID))
	c.config.Observer.login(record.ID)
}

// loadRecord returns the stored login record, if there is one with a token
// that has not expired
func (c *Client) loadRecord() (wire.LoginResult, bool) {
	data, ok, err := c.storage.Get(c.config.StorageKey)
	if err != nil {
		c.log().Warn("Failed to read login record", zap.Error(err))
		return wire.LoginResult{}, false
	}
	if !ok {
		return wire.LoginResult{}, false
	}

	var record wire.LoginResult
	if err := json.Unmarshal(data, &record); err != nil {
		c.log().Warn("Invalid login record", zap.Error(err))
		return wire.LoginResult{}, false
	}
	if record.Token == "" || record.TokenExpires.IsZero() || !record.TokenExpires.After(time.Now()) {
		return wire.LoginResult{}, false
	}
	return record, true
}

func (c *Client) saveRecord(record wire.LoginResult) {
	data, err := json.Marshal(record)
	if err == nil {
		err = c.storage.Set(c.config.StorageKey, data)
	}
	if err != nil {
		c.log().Warn("Failed to store login record", zap.Error(err))
	}
}

func (c *Client) clearRecord() {
	if err := c.storage.Remove(c.config.StorageKey); err != nil {
		c.log().Warn("Failed to remove login record", zap.Error(err))
	}
}
