package internal

import (
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

func (model *TUIModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typedMessage := message.(type) {
	case tea.KeyMsg:
		// ctrl+c bails out from anywhere
		if typedMessage.Type == tea.KeyCtrlC {
			if model.session != nil {
				model.session.Close()
			}
			return model, tea.Quit
		}
		return model.updateKey(typedMessage)

	case loggedInMsg:
		model.session = typedMessage.session
		model.publicLog = typedMessage.public
		model.spaces = typedMessage.spaces
		model.isConnected = true
		model.connectionError = nil
		model.notice = ""
		model.enterPublicChat()
		return model, model.waitForEventCmd()

	case authFailedMsg:
		model.notice = "Login failed: " + typedMessage.err.Error()
		model.mode = modeAuthMenu
		model.textInput.Blur()
		return model, nil

	case signupDoneMsg:
		if typedMessage.err != nil {
			model.notice = "Signup failed: " + typedMessage.err.Error()
			model.mode = modeAuthMenu
			model.textInput.Blur()
			return model, nil
		}
		model.notice = "Account created. Log in with your code."
		model.authAction = authLogin
		model.promptFor(modeAuthID, "id> ", "5-digit code")
		model.textInput.SetValue(model.pendingID)
		return model, nil

	case syncEventMsg:
		event := SyncEvent(typedMessage)
		if event.Err != nil {
			if errors.Is(event.Err, ErrCacheFailed) {
				// durability is gone; the session cannot continue
				model.connectionError = event.Err
				if model.session != nil {
					model.session.Close()
				}
				return model, tea.Quit
			}
			model.isConnected = false
			model.connectionError = event.Err
			return model, model.scheduleReconnect()
		}
		if event.Public {
			model.publicLog = append(model.publicLog, event.Message)
		} else if event.SpaceID == model.currentSpaceID {
			model.spaceLog = append(model.spaceLog, event.Message)
		}
		return model, model.waitForEventCmd()

	case connectedMsg:
		model.isConnected = true
		model.connectionError = nil
		return model, model.waitForEventCmd()

	case connectFailMsg:
		model.isConnected = false
		model.connectionError = typedMessage.err
		return model, model.scheduleReconnect()

	case reconnectMsg:
		if model.session != nil && !model.isConnected {
			return model, model.reconnectCmd()
		}
		return model, nil

	case spacesMsg:
		if typedMessage.err != nil {
			model.notice = "Could not refresh spaces: " + typedMessage.err.Error()
			return model, nil
		}
		model.spaces = typedMessage.spaces
		if model.spaceIndex >= len(model.spaces) {
			model.spaceIndex = 0
		}
		return model, nil

	case spaceCreatedMsg:
		if typedMessage.err != nil {
			model.notice = "Could not create space: " + typedMessage.err.Error()
			model.mode = modePublicChat
			return model, nil
		}
		model.spaces = append(model.spaces, typedMessage.space)
		model.openSpace(typedMessage.space)
		return model, nil

	case inviteDoneMsg:
		switch {
		case errors.Is(typedMessage.err, ErrAlreadyMember):
			model.notice = "That member is already in the space."
		case typedMessage.err != nil:
			model.notice = "Invite failed: " + typedMessage.err.Error()
		default:
			model.notice = "Member added."
		}
		model.enterChatInput()
		model.mode = modeSpaceChat
		return model, nil
	}
	return model, nil
}

func (model *TUIModel) updateKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch model.mode {
	case modeAuthMenu:
		switch key.String() {
		case "1", "l", "L":
			model.authAction = authLogin
			model.promptFor(modeAuthID, "id> ", "5-digit code")
			model.textInput.SetValue(model.pendingID)
			return model, nil
		case "2", "s", "S":
			model.authAction = authSignup
			model.promptFor(modeAuthID, "id> ", "pick a 5-digit code")
			model.textInput.SetValue(model.pendingID)
			return model, nil
		case "q", "Q", "3":
			return model, tea.Quit
		}
		return model, nil

	case modeAuthID:
		switch key.Type {
		case tea.KeyEnter:
			trimmed := strings.TrimSpace(model.textInput.Value())
			if trimmed == "" {
				return model, nil
			}
			model.pendingID = trimmed
			model.textInput.SetValue("")
			if model.authAction == authSignup {
				model.promptFor(modeAuthNickname, "name> ", "display name")
			} else {
				model.promptPassword()
			}
			return model, nil
		case tea.KeyEsc:
			model.backToAuthMenu()
			return model, nil
		}

	case modeAuthNickname:
		switch key.Type {
		case tea.KeyEnter:
			trimmed := strings.TrimSpace(model.textInput.Value())
			if trimmed == "" {
				return model, nil
			}
			model.pendingNickname = trimmed
			model.textInput.SetValue("")
			model.promptPassword()
			return model, nil
		case tea.KeyEsc:
			model.backToAuthMenu()
			return model, nil
		}

	case modeAuthPassword:
		switch key.Type {
		case tea.KeyEnter:
			password := model.textInput.Value()
			if strings.TrimSpace(password) == "" {
				return model, nil
			}
			model.textInput.SetValue("")
			model.textInput.EchoMode = textinput.EchoNormal
			if model.authAction == authSignup {
				model.notice = "Creating account…"
				return model, model.signupCmd(model.pendingID, model.pendingNickname, password)
			}
			model.notice = "Logging in…"
			return model, model.loginCmd(model.pendingID, password)
		case tea.KeyEsc:
			model.textInput.EchoMode = textinput.EchoNormal
			model.backToAuthMenu()
			return model, nil
		}

	case modePublicChat:
		if key.Type == tea.KeyEnter {
			trimmed := strings.TrimSpace(model.textInput.Value())
			if trimmed == "" {
				return model, nil
			}
			if strings.HasPrefix(trimmed, "/") {
				return model.runPublicCommand(trimmed)
			}
			model.textInput.SetValue("")
			if !model.isConnected {
				model.notice = "Not connected; message not sent."
				return model, nil
			}
			return model, model.sendPublicCmd(trimmed)
		}

	case modeSpaceList:
		switch key.String() {
		case "up", "k":
			if model.spaceIndex > 0 {
				model.spaceIndex--
			}
			return model, nil
		case "down", "j":
			if model.spaceIndex < len(model.spaces)-1 {
				model.spaceIndex++
			}
			return model, nil
		case "c", "C":
			model.promptFor(modeSpaceNamePrompt, "space> ", "name: member-id, member-id")
			return model, nil
		case "r", "R":
			return model, model.refreshSpacesCmd()
		case "esc", "b", "B":
			model.enterPublicChat()
			return model, nil
		case "enter":
			if len(model.spaces) == 0 {
				return model, nil
			}
			model.openSpace(model.spaces[model.spaceIndex])
			return model, nil
		}
		return model, nil

	case modeSpaceNamePrompt:
		switch key.Type {
		case tea.KeyEnter:
			name, members := parseSpaceNameInput(model.textInput.Value())
			if name == "" {
				model.notice = "Space name cannot be empty."
				return model, nil
			}
			model.textInput.SetValue("")
			model.notice = "Creating space…"
			return model, model.createSpaceCmd(name, members)
		case tea.KeyEsc:
			model.enterPublicChat()
			return model, nil
		}

	case modeInvitePrompt:
		switch key.Type {
		case tea.KeyEnter:
			trimmed := strings.TrimSpace(model.textInput.Value())
			if trimmed == "" {
				return model, nil
			}
			model.textInput.SetValue("")
			return model, model.inviteCmd(model.currentSpaceID, trimmed)
		case tea.KeyEsc:
			model.enterChatInput()
			model.mode = modeSpaceChat
			return model, nil
		}

	case modeSpaceChat:
		if key.Type == tea.KeyEnter {
			trimmed := strings.TrimSpace(model.textInput.Value())
			if trimmed == "" {
				return model, nil
			}
			if strings.HasPrefix(trimmed, "/") {
				return model.runSpaceCommand(trimmed)
			}
			model.textInput.SetValue("")
			if !model.isConnected {
				model.notice = "Not connected; message not sent."
				return model, nil
			}
			return model, model.sendSpaceCmd(model.currentSpaceID, trimmed)
		}
	}

	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return model, cmd
}

func (model *TUIModel) runPublicCommand(command string) (tea.Model, tea.Cmd) {
	model.textInput.SetValue("")
	fields := strings.Fields(strings.ToLower(command))
	switch fields[0] {
	case "/spaces":
		model.mode = modeSpaceList
		model.spaceIndex = 0
		model.textInput.Blur()
		return model, model.refreshSpacesCmd()
	case "/create":
		model.promptFor(modeSpaceNamePrompt, "space> ", "name: member-id, member-id")
		return model, nil
	case "/quit", "/exit":
		if model.session != nil {
			model.session.Close()
		}
		return model, tea.Quit
	}
	model.notice = "Unknown command. Try /spaces, /create or /quit."
	return model, nil
}

func (model *TUIModel) runSpaceCommand(command string) (tea.Model, tea.Cmd) {
	model.textInput.SetValue("")
	fields := strings.Fields(command)
	switch strings.ToLower(fields[0]) {
	case "/back":
		model.enterPublicChat()
		return model, nil
	case "/invite":
		if len(fields) > 1 {
			return model, model.inviteCmd(model.currentSpaceID, fields[1])
		}
		model.promptFor(modeInvitePrompt, "invite> ", "member id")
		return model, nil
	case "/quit", "/exit":
		if model.session != nil {
			model.session.Close()
		}
		return model, tea.Quit
	}
	model.notice = "Unknown command. Try /invite, /back or /quit."
	return model, nil
}

func (model *TUIModel) promptFor(mode appMode, prompt, placeholder string) {
	model.mode = mode
	model.textInput.SetValue("")
	model.textInput.Prompt = prompt
	model.textInput.Placeholder = placeholder
	model.textInput.Focus()
}

func (model *TUIModel) promptPassword() {
	model.promptFor(modeAuthPassword, "password> ", "")
	model.textInput.EchoMode = textinput.EchoPassword
}

func (model *TUIModel) backToAuthMenu() {
	model.mode = modeAuthMenu
	model.authAction = authNone
	model.textInput.SetValue("")
	model.textInput.Blur()
}

func (model *TUIModel) enterChatInput() {
	model.textInput.Prompt = "> "
	model.textInput.Placeholder = "Type a message…"
	model.textInput.Focus()
}

func (model *TUIModel) enterPublicChat() {
	model.mode = modePublicChat
	model.currentSpaceID = ""
	model.spaceLog = nil
	model.enterChatInput()
}

func (model *TUIModel) openSpace(space Space) {
	model.currentSpaceID = space.ID
	model.spaceLog = space.Messages
	if model.session != nil {
		if cached, known, err := model.session.Space(space.ID); err == nil && known {
			model.spaceLog = cached.Messages
		}
	}
	model.mode = modeSpaceChat
	model.enterChatInput()
}
