package internal

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// loginCmd authenticates, opens the per-user cache, wires the session, and
// connects the websocket, so a single message carries the whole result.
func (model *TUIModel) loginCmd(id, password string) tea.Cmd {
	serverJoinURL := model.serverJoinURL
	openCache := model.openCache
	return func() tea.Msg {
		apiBase, err := httpBaseFromJoinURL(serverJoinURL)
		if err != nil {
			return authFailedMsg{err: err}
		}
		login, err := apiLogin(apiBase, id, password)
		if err != nil {
			return authFailedMsg{err: err}
		}
		cache, err := openCache(login.ID)
		if err != nil {
			return authFailedMsg{err: fmt.Errorf("open cache: %w", err)}
		}
		session, err := NewChatSession(serverJoinURL, *login, cache)
		if err != nil {
			return authFailedMsg{err: err}
		}
		if err := session.Connect(); err != nil {
			return authFailedMsg{err: err}
		}
		public, err := session.PublicLog()
		if err != nil {
			return authFailedMsg{err: err}
		}
		spaces, err := session.RefreshSpaces()
		if err != nil {
			// offline listing still works from the cache
			spaces, _ = session.Spaces()
		}
		return loggedInMsg{session: session, public: public, spaces: spaces}
	}
}

func (model *TUIModel) signupCmd(id, nickname, password string) tea.Cmd {
	serverJoinURL := model.serverJoinURL
	return func() tea.Msg {
		apiBase, err := httpBaseFromJoinURL(serverJoinURL)
		if err != nil {
			return signupDoneMsg{err: err}
		}
		return signupDoneMsg{err: apiSignup(apiBase, id, nickname, password)}
	}
}

// waitForEventCmd blocks on the session's event stream; we re-issue it after
// every event so the update loop keeps draining.
func (model *TUIModel) waitForEventCmd() tea.Cmd {
	session := model.session
	return func() tea.Msg {
		return syncEventMsg(<-session.Events())
	}
}

func (model *TUIModel) reconnectCmd() tea.Cmd {
	session := model.session
	return func() tea.Msg {
		if err := session.Connect(); err != nil {
			return connectFailMsg{err: err}
		}
		return connectedMsg{}
	}
}

func (model *TUIModel) scheduleReconnect() tea.Cmd {
	const retryDelay = 2 * time.Second
	return tea.Tick(retryDelay, func(time.Time) tea.Msg {
		return reconnectMsg{}
	})
}

func (model *TUIModel) refreshSpacesCmd() tea.Cmd {
	session := model.session
	return func() tea.Msg {
		spaces, err := session.RefreshSpaces()
		return spacesMsg{spaces: spaces, err: err}
	}
}

func (model *TUIModel) createSpaceCmd(name string, members []string) tea.Cmd {
	session := model.session
	return func() tea.Msg {
		space, err := session.CreateSpace(name, members)
		return spaceCreatedMsg{space: space, err: err}
	}
}

func (model *TUIModel) inviteCmd(spaceID, userID string) tea.Cmd {
	session := model.session
	return func() tea.Msg {
		return inviteDoneMsg{err: session.AddMember(spaceID, userID)}
	}
}

func (model *TUIModel) sendPublicCmd(text string) tea.Cmd {
	session := model.session
	return func() tea.Msg {
		if err := session.SendPublic(text); err != nil {
			return connectFailMsg{err: err}
		}
		return nil
	}
}

func (model *TUIModel) sendSpaceCmd(spaceID, text string) tea.Cmd {
	session := model.session
	return func() tea.Msg {
		if err := session.SendSpace(spaceID, text); err != nil {
			return connectFailMsg{err: err}
		}
		return nil
	}
}

// parseSpaceNameInput splits "name: id1,id2" style create input into the
// space name and the invited member ids.
func parseSpaceNameInput(input string) (string, []string) {
	name := input
	var members []string
	if idx := strings.Index(input, ":"); idx >= 0 {
		name = strings.TrimSpace(input[:idx])
		for _, member := range strings.Split(input[idx+1:], ",") {
			member = strings.TrimSpace(member)
			if member != "" {
				members = append(members, member)
			}
		}
	}
	return strings.TrimSpace(name), members
}
