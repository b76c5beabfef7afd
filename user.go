package onvif

import (
	"context"
	"fmt"
	"strings"

	"github.com/elgs/gostrgen"
	"github.com/juju/errors"
)

// generatedPasswordLength is long enough for the password policies of the
// common camera firmwares
const generatedPasswordLength = 16

// GetUsers retrieves all users from the camera
func (c *Client) GetUsers(ctx context.Context) ([]User, error) {
	body, _, err := c.Request(ctx, "device", `<tds:GetUsers/>`)
	if err != nil {
		return nil, errors.Annotate(err, "failed to get users")
	}

	resp := body.Child("GetUsersResponse")
	if resp == nil {
		return nil, protocolError("GetUsers", "response has no GetUsersResponse")
	}

	var users []User
	for _, u := range resp.All("User") {
		users = append(users, User{
			Username:  u.Value("Username"),
			UserLevel: UserLevel(u.Value("UserLevel")),
		})
	}
	return users, nil
}

func validateUser(op string, user User) error {
	if user.Username == "" {
		return configurationError(op, "username is required")
	}
	switch user.UserLevel {
	case UserLevelAdministrator, UserLevelOperator, UserLevelUser, UserLevelAnonymous:
		return nil
	default:
		return configurationError(op, "unrecognized user level %q", user.UserLevel)
	}
}

func writeUser(b *strings.Builder, user User) {
	b.WriteString("<tds:User>")
	fmt.Fprintf(b, "<tt:Username>%s</tt:Username>", escapeXML(user.Username))
	if user.Password != "" {
		fmt.Fprintf(b, "<tt:Password>%s</tt:Password>", escapeXML(user.Password))
	}
	fmt.Fprintf(b, "<tt:UserLevel>%s</tt:UserLevel>", user.UserLevel)
	b.WriteString("</tds:User>")
}

// CreateUsers creates multiple users on the camera
func (c *Client) CreateUsers(ctx context.Context, users []User) error {
	const op = "CreateUsers"

	if len(users) == 0 {
		return configurationError(op, "no users given")
	}
	for _, user := range users {
		if err := validateUser(op, user); err != nil {
			return err
		}
	}

	var b strings.Builder
	b.WriteString("<tds:CreateUsers>")
	for _, user := range users {
		writeUser(&b, user)
	}
	b.WriteString("</tds:CreateUsers>")

	body, _, err := c.Request(ctx, "device", b.String())
	if err != nil {
		return errors.Annotate(err, "failed to create users")
	}
	return expectEmptyResponse(op, body, "CreateUsersResponse")
}

// CreateUser creates a single user on the camera (convenience wrapper)
func (c *Client) CreateUser(ctx context.Context, username, password string, level UserLevel) error {
	return c.CreateUsers(ctx, []User{{
		Username:  username,
		Password:  password,
		UserLevel: level,
	}})
}

// CreateUserWithGeneratedPassword creates a user with a random password and
// returns that password
func (c *Client) CreateUserWithGeneratedPassword(ctx context.Context, username string, level UserLevel) (string, error) {
	password, err := gostrgen.RandGen(generatedPasswordLength, gostrgen.LowerUpperDigit, "", "")
	if err != nil {
		return "", errors.Annotate(err, "failed to generate password")
	}
	if err := c.CreateUser(ctx, username, password, level); err != nil {
		return "", err
	}
	return password, nil
}

// SetUser modifies an existing user's password and/or level
func (c *Client) SetUser(ctx context.Context, user User) error {
	const op = "SetUser"

	if err := validateUser(op, user); err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString("<tds:SetUser>")
	writeUser(&b, user)
	b.WriteString("</tds:SetUser>")

	body, _, err := c.Request(ctx, "device", b.String())
	if err != nil {
		return errors.Annotate(err, "failed to set user")
	}
	return expectEmptyResponse(op, body, "SetUserResponse")
}

// SetUserPassword changes a user's password (convenience wrapper)
// Note: This requires knowing the user's current level
func (c *Client) SetUserPassword(ctx context.Context, username, newPassword string) error {
	users, err := c.GetUsers(ctx)
	if err != nil {
		return errors.Annotate(err, "failed to get current user info")
	}

	for _, u := range users {
		if u.Username == username {
			return c.SetUser(ctx, User{
				Username:  username,
				Password:  newPassword,
				UserLevel: u.UserLevel,
			})
		}
	}

	return configurationError("SetUser", "user %q not found", username)
}

// DeleteUsers deletes multiple users from the camera
func (c *Client) DeleteUsers(ctx context.Context, usernames []string) error {
	const op = "DeleteUsers"

	if len(usernames) == 0 {
		return configurationError(op, "no usernames given")
	}

	var b strings.Builder
	b.WriteString("<tds:DeleteUsers>")
	for _, username := range usernames {
		fmt.Fprintf(&b, "<tds:Username>%s</tds:Username>", escapeXML(username))
	}
	b.WriteString("</tds:DeleteUsers>")

	body, _, err := c.Request(ctx, "device", b.String())
	if err != nil {
		return errors.Annotate(err, "failed to delete users")
	}
	return expectEmptyResponse(op, body, "DeleteUsersResponse")
}

// DeleteUser deletes a single user from the camera (convenience wrapper)
func (c *Client) DeleteUser(ctx context.Context, username string) error {
	return c.DeleteUsers(ctx, []string{username})
}
