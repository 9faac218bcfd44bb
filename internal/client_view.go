package internal

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// pre styled colors, all lipgloss
var (
	appTitleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	subtitleStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("110")).MarginTop(1)
	menuBoxStyle       = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(1, 2).MarginTop(1)
	menuItemStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).PaddingLeft(1)
	menuHotkeyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	menuHintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	noticeStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true).MarginTop(1)
	chatHeaderStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("109")).MarginTop(1)
	connectedStyle     = statusStyle.Copy().Foreground(lipgloss.Color("42")).Bold(true)
	connectingStyle    = statusStyle.Copy().Foreground(lipgloss.Color("178")).Italic(true)
	messageBodyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("253"))
	messageBoxStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(1, 2).MarginTop(1)
	inputBoxStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	timestampStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	usernameStyle      = lipgloss.NewStyle().Bold(true)
	activeUserStyle    = usernameStyle.Copy().Foreground(lipgloss.Color("213"))
	emptyLogStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	errorStyle         = statusStyle.Copy().Foreground(lipgloss.Color("196")).Bold(true)
	dividerStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("237")).Render(" ┃ ")
	spaceSelectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	spaceItemStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	userColorPalette   = []lipgloss.Color{
		lipgloss.Color("45"),
		lipgloss.Color("81"),
		lipgloss.Color("141"),
		lipgloss.Color("98"),
		lipgloss.Color("63"),
		lipgloss.Color("135"),
		lipgloss.Color("32"),
	}
)

func (model *TUIModel) View() string {
	switch model.mode {
	case modeAuthMenu:
		return model.renderAuthMenuView()
	case modeAuthID, modeAuthNickname, modeAuthPassword:
		return model.renderAuthPromptView()
	case modeSpaceList:
		return model.renderSpaceListView()
	case modeSpaceNamePrompt:
		return model.renderPrompt("Create a space", "name: member-id, member-id")
	case modeInvitePrompt:
		return model.renderPrompt("Invite a member", "Enter the 5-digit code of the user to add.")
	default:
		return model.renderChatView()
	}
}

func (model *TUIModel) renderAuthMenuView() string {
	title := appTitleStyle.Render("SpaceChat")
	subtitle := subtitleStyle.Render("One public channel, private spaces, right in your terminal")

	options := []string{
		renderMenuOption("1", "Log in"),
		renderMenuOption("2", "Sign up"),
		renderMenuOption("q", "Quit"),
	}

	viewSections := []string{
		lipgloss.JoinVertical(lipgloss.Left, title, subtitle),
		menuBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, options...)),
	}

	if model.notice != "" {
		viewSections = append(viewSections, noticeStyle.Render(model.notice))
	}

	viewSections = append(viewSections, menuHintStyle.Render("1) Log in  •  2) Sign up  •  q) Quit"))

	return lipgloss.JoinVertical(lipgloss.Left, viewSections...)
}

func (model *TUIModel) renderAuthPromptView() string {
	title := "Log in"
	if model.authAction == authSignup {
		title = "Create an account"
	}
	var hint string
	switch model.mode {
	case modeAuthID:
		hint = "Enter your 5-digit code"
	case modeAuthNickname:
		hint = "Pick a display name"
	default:
		hint = "Enter your password"
	}
	return model.renderPrompt(title, hint)
}

func (model *TUIModel) renderPrompt(title, hint string) string {
	header := appTitleStyle.Render(title)
	hintText := menuHintStyle.Render(hint)

	viewSections := []string{header, hintText}

	if model.notice != "" {
		viewSections = append(viewSections, noticeStyle.Render(model.notice))
	}

	viewSections = append(viewSections, inputBoxStyle.Render(model.textInput.View()))

	return lipgloss.JoinVertical(lipgloss.Left, viewSections...)
}

func (model *TUIModel) renderSpaceListView() string {
	nickname := ""
	if model.session != nil {
		nickname = model.session.Nickname()
	}
	title := appTitleStyle.Render(fmt.Sprintf("Your spaces, %s", nickname))
	viewSections := []string{title}

	if model.notice != "" {
		viewSections = append(viewSections, noticeStyle.Render(model.notice))
	}

	var lines []string
	if len(model.spaces) == 0 {
		lines = append(lines, menuHintStyle.Render("No spaces yet. Press c to create one."))
	} else {
		for idx, space := range model.spaces {
			label := fmt.Sprintf("%s (%d members)", space.Name, len(space.Members))
			if idx == model.spaceIndex {
				lines = append(lines, spaceSelectedStyle.Render("➤ "+label))
			} else {
				lines = append(lines, spaceItemStyle.Render("  "+label))
			}
		}
	}
	viewSections = append(viewSections, menuBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)))

	viewSections = append(viewSections, menuHintStyle.Render("↑/↓ select • Enter open • c create • r refresh • Esc back"))

	return lipgloss.JoinVertical(lipgloss.Left, viewSections...)
}

func (model *TUIModel) renderChatView() string {
	headerSegments := []string{"SpaceChat"}
	if model.currentSpaceID != "" {
		headerSegments = append(headerSegments, fmt.Sprintf("Space %s", model.currentSpaceName()))
	} else {
		headerSegments = append(headerSegments, "Public channel")
	}
	if model.session != nil {
		headerSegments = append(headerSegments, fmt.Sprintf("User %s", model.session.Nickname()))
	}
	headerSegments = append(headerSegments, fmt.Sprintf("Server %s", model.serverJoinURL))
	header := chatHeaderStyle.Render(strings.Join(headerSegments, dividerStyle))

	var statusLine string
	switch {
	case model.connectionError != nil:
		statusLine = errorStyle.Render("Connection error: " + model.connectionError.Error())
	case model.isConnected:
		statusLine = connectedStyle.Render("Connected")
	default:
		statusLine = connectingStyle.Render("Connecting…")
	}

	log := model.publicLog
	if model.currentSpaceID != "" {
		log = model.spaceLog
	}

	var messageLines []string
	for _, message := range log {
		messageLines = append(messageLines, model.renderMessageLine(message))
	}
	if len(messageLines) == 0 {
		messageLines = append(messageLines, emptyLogStyle.Render("No messages yet. Say hi and start the conversation."))
	}

	messagesView := messageBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, messageLines...))
	inputView := inputBoxStyle.Render(model.textInput.View())
	footerHint := menuHintStyle.Render("/spaces • /create • /quit")
	if model.currentSpaceID != "" {
		footerHint = menuHintStyle.Render("/invite <id> • /back • /quit")
	}

	sections := []string{header, statusLine}
	if model.notice != "" {
		sections = append(sections, noticeStyle.Render(model.notice))
	}
	sections = append(sections, messagesView, inputView, footerHint)

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func renderMenuOption(hotkey string, label string) string {
	key := menuHotkeyStyle.Render(hotkey)
	return lipgloss.JoinHorizontal(lipgloss.Left, key, menuItemStyle.Render(label))
}

// renderMessageLine stamps the timestamp, picks a color for the author, and
// indents multi-line messages so they stay legible.
func (model *TUIModel) renderMessageLine(message Message) string {
	timestamp := timestampStyle.Render(fmt.Sprintf("[%s]", message.Timestamp))

	var nameStyle lipgloss.Style
	if model.session != nil && message.Author == model.session.Nickname() {
		nameStyle = activeUserStyle
	} else {
		nameStyle = usernameStyle.Copy().Foreground(colorForUser(message.Author))
	}

	name := nameStyle.Render(message.Author)
	bodyText := messageBodyStyle.Render(strings.ReplaceAll(message.Text, "\n", "\n   "))

	return lipgloss.JoinHorizontal(lipgloss.Left, timestamp, " ", name, ": ", bodyText)
}

func (model *TUIModel) currentSpaceName() string {
	for _, space := range model.spaces {
		if space.ID == model.currentSpaceID {
			return space.Name
		}
	}
	return model.currentSpaceID
}

// color for users
func colorForUser(name string) lipgloss.Color {
	if len(userColorPalette) == 0 {
		return lipgloss.Color("249")
	}
	if name == "" {
		return userColorPalette[0]
	}
	var sum int
	for _, r := range name {
		sum += int(r)
	}
	return userColorPalette[sum%len(userColorPalette)]
}
