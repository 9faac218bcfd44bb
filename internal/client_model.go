package internal

import (
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// CacheOpener opens the durable cache for one logged-in user. Injected so
// the core stays testable with an in-memory fake.
type CacheOpener func(userID string) (Cache, error)

// TUIModel holds the bubbletea state for the chat client: auth prompts, the
// public channel, and the space views, all backed by one ChatSession.
type TUIModel struct {
	textInput     textinput.Model
	serverJoinURL string
	openCache     CacheOpener

	mode       appMode
	authAction authAction

	pendingID       string
	pendingNickname string

	session         *ChatSession
	isConnected     bool
	connectionError error

	publicLog      []Message
	spaces         []Space
	spaceIndex     int
	currentSpaceID string
	spaceLog       []Message

	notice string
}

type appMode int

const (
	modeAuthMenu appMode = iota
	modeAuthID
	modeAuthNickname
	modeAuthPassword
	modePublicChat
	modeSpaceList
	modeSpaceNamePrompt
	modeInvitePrompt
	modeSpaceChat
)

type authAction int

const (
	authNone authAction = iota
	authLogin
	authSignup
)

// these are the asynchronous events the update loop reacts to
type (
	loggedInMsg struct {
		session *ChatSession
		public  []Message
		spaces  []Space
	}
	authFailedMsg   struct{ err error }
	signupDoneMsg   struct{ err error }
	syncEventMsg    SyncEvent
	connectedMsg    struct{}
	connectFailMsg  struct{ err error }
	reconnectMsg    struct{}
	spacesMsg       struct {
		spaces []Space
		err    error
	}
	spaceCreatedMsg struct {
		space Space
		err   error
	}
	inviteDoneMsg struct{ err error }
)

func NewTUIModel(serverJoinURL, defaultID string, openCache CacheOpener) *TUIModel {
	input := textinput.New()
	input.CharLimit = 0
	input.Blur()

	return &TUIModel{
		textInput:     input,
		serverJoinURL: serverJoinURL,
		openCache:     openCache,
		pendingID:     defaultID,
		mode:          modeAuthMenu,
	}
}

func (model *TUIModel) Init() tea.Cmd {
	return nil
}

// RunClient launches the bubbletea program for a terminal chat session.
func RunClient(serverJoinURL, defaultID string, openCache CacheOpener) error {
	program := tea.NewProgram(NewTUIModel(serverJoinURL, defaultID, openCache))
	_, err := program.Run()
	return err
}
