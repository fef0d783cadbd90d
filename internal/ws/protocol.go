package ws

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Message types for the project WebSocket protocol.
const (
	// Client → Server
	TypeAuth           = "AUTH"
	TypeGetOnlineUsers = "GET_ONLINE_USERS"
	TypeExecuteCode    = "EXECUTE_CODE"
	TypeSendInput      = "SEND_INPUT"
	TypeStopExecution  = "STOP_EXECUTION"
	TypeFileSave       = "FILE_SAVE"
	TypeFileCreate     = "FILE_CREATE"
	TypeFileDelete     = "FILE_DELETE"
	TypeFileRename     = "FILE_RENAME"
	TypeKickUser       = "KICK_USER"

	// Server → Client (session)
	TypeSessionInfo  = "SESSION_INFO"
	TypeAuthSuccess  = "AUTH_SUCCESS"
	TypeProjectState = "PROJECT_STATE"

	// Server → Client (file tree)
	TypeFileSaved   = "FILE_SAVED"
	TypeFileCreated = "FILE_CREATED"
	TypeFileDeleted = "FILE_DELETED"
	TypeFileRenamed = "FILE_RENAMED"

	// Server → Client (execution)
	TypeExecutionStarted   = "EXECUTION_STARTED"
	TypeOutput             = "OUTPUT"
	TypeInputRequired      = "INPUT_REQUIRED"
	TypeInputSent          = "INPUT_SENT"
	TypeExecutionCompleted = "EXECUTION_COMPLETED"
	TypeExecutionResult    = "EXECUTION_RESULT"
	TypeExecutionStopped   = "EXECUTION_STOPPED"
	TypeCompileError       = "COMPILE_ERROR"
	TypeCompileSuccess     = "COMPILE_SUCCESS"
	TypeError              = "ERROR"

	// Server → Client (presence)
	TypeOnlineUsers         = "ONLINE_USERS"
	TypeUserJoined          = "USER_JOINED"
	TypeUserLeft            = "USER_LEFT"
	TypeUserKicked          = "USER_KICKED"
	TypeUserKickedBroadcast = "USER_KICKED_BROADCAST"
)

// File types carried by FILE_CREATE and file nodes.
const (
	FileTypeFile   = "FILE"
	FileTypeFolder = "FOLDER"
)

// ID is a server-assigned numeric identifier. The server emits numbers, but
// some paths echo ids back as strings, so both forms decode.
type ID int64

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(s)
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", data, err)
	}
	*id = ID(n)
	return nil
}

func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Envelope is the routing header present on every frame.
type Envelope struct {
	Type string `json:"type"`
}

// Auth is the handshake sent right after the transport opens. Unlike other
// outbound messages it is not wrapped with the session header.
type Auth struct {
	Type         string `json:"type"`
	UserID       ID     `json:"userId"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	ProjectID    string `json:"projectId"`
	ConnectionID string `json:"connectionId"`
	Timestamp    int64  `json:"timestamp"`
}

// Outbound payloads. The client adds type, sessionId, connectionId and
// timestamp when framing.

type ExecuteCodePayload struct {
	Code     string `json:"code"`
	FilePath string `json:"filePath"`
}

type ExecuteFilesPayload struct {
	Files      map[string]string `json:"files"`
	EntryPoint string            `json:"entryPoint"`
}

type SendInputPayload struct {
	Input string `json:"input"`
}

type FileSavePayload struct {
	FileID  ID     `json:"fileId"`
	Content string `json:"content"`
}

type FileCreatePayload struct {
	FileName string `json:"fileName"`
	Path     string `json:"path"`
	FileType string `json:"fileType"`
	ParentID *ID    `json:"parentId"`
}

type FileDeletePayload struct {
	FileID ID `json:"fileId"`
}

type FileRenamePayload struct {
	NewFileName string `json:"newFileName"`
	FileID      ID     `json:"fileId"`
}

type KickUserPayload struct {
	UserID ID `json:"userId"`
}

// Event is one decoded inbound message.
type Event interface {
	EventType() string
}

// File is a file or folder as the server describes it.
type File struct {
	ID       ID      `json:"id"`
	Name     string  `json:"name"`
	Path     string  `json:"path"`
	Type     string  `json:"type"`
	ParentID *ID     `json:"parentId,omitempty"`
	Content  *string `json:"content,omitempty"`
}

// User is a participant as carried by presence messages.
type User struct {
	ID          ID     `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	SessionID   string `json:"sessionId,omitempty"`
	ConnectedAt int64  `json:"connectedAt,omitempty"`
}

// SessionInfo carries the server-assigned session id.
type SessionInfo struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message,omitempty"`
}

type AuthSuccess struct {
	Message string `json:"message,omitempty"`
	User    User   `json:"user"`
}

type ProjectState struct {
	ProjectID string `json:"projectId"`
}

type FileSaved struct {
	FileID  ID     `json:"fileId"`
	Content string `json:"content"`
}

type FileCreated struct {
	File *File `json:"file"`
}

type FileDeleted struct {
	FileID ID `json:"fileId"`
}

type FileRenamed struct {
	FileID  ID     `json:"fileId"`
	Name    string `json:"name"`
	NewPath string `json:"newPath"`
}

type ExecutionStarted struct {
	Message string `json:"message,omitempty"`
}

type Output struct {
	Message string `json:"message"`
}

type InputRequired struct {
	Message string `json:"message,omitempty"`
}

type InputSent struct {
	Message string `json:"message,omitempty"`
}

// ExecutionCompleted covers both EXECUTION_COMPLETED and EXECUTION_RESULT.
// Kind records which one arrived.
type ExecutionCompleted struct {
	Kind     string
	Error    string
	ExitCode *int
}

type ExecutionStopped struct {
	Message string `json:"message,omitempty"`
}

type CompileError struct {
	Message string `json:"message"`
}

type CompileSuccess struct {
	Message string `json:"message,omitempty"`
}

// ErrorEvent is an application error reported by the server.
type ErrorEvent struct {
	Message  string
	ExitCode *int
}

type OnlineUsers struct {
	Users []User `json:"users"`
	Count int    `json:"count"`
}

type UserJoined struct {
	User User `json:"user"`
}

type UserLeft struct {
	User User `json:"user"`
}

// UserKicked is addressed to the connection that was removed.
type UserKicked struct {
	Message  string `json:"message"`
	KickedBy string `json:"kickedBy"`
}

type UserKickedBroadcast struct {
	UserID           ID     `json:"userId"`
	KickedBy         ID     `json:"kickedBy"`
	KickedByUsername string `json:"kickedByUsername"`
}

// Unknown is any frame whose type this client does not understand.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (*SessionInfo) EventType() string { return TypeSessionInfo }
func (*AuthSuccess) EventType() string { return TypeAuthSuccess }
func (*ProjectState) EventType() string { return TypeProjectState }
func (*FileSaved) EventType() string { return TypeFileSaved }
func (*FileCreated) EventType() string { return TypeFileCreated }
func (*FileDeleted) EventType() string { return TypeFileDeleted }
func (*FileRenamed) EventType() string { return TypeFileRenamed }
func (*ExecutionStarted) EventType() string { return TypeExecutionStarted }
func (*Output) EventType() string { return TypeOutput }
func (*InputRequired) EventType() string { return TypeInputRequired }
func (*InputSent) EventType() string { return TypeInputSent }
func (e *ExecutionCompleted) EventType() string { return e.Kind }
func (*ExecutionStopped) EventType() string { return TypeExecutionStopped }
func (*CompileError) EventType() string { return TypeCompileError }
func (*CompileSuccess) EventType() string { return TypeCompileSuccess }
func (*ErrorEvent) EventType() string { return TypeError }
func (*OnlineUsers) EventType() string { return TypeOnlineUsers }
func (*UserJoined) EventType() string { return TypeUserJoined }
func (*UserLeft) EventType() string { return TypeUserLeft }
func (*UserKicked) EventType() string { return TypeUserKicked }
func (*UserKickedBroadcast) EventType() string { return TypeUserKickedBroadcast }
func (e *Unknown) EventType() string { return e.Type }

// exitFields accepts both exit-code spellings and both error spellings seen
// on the wire.
type exitFields struct {
	Message   *string `json:"message"`
	Error     *string `json:"error"`
	ExitCode  *int    `json:"exitCode"`
	ExitCode2 *int    `json:"exit_code"`
}

func (f exitFields) exitCode() *int {
	if f.ExitCode != nil {
		return f.ExitCode
	}
	return f.ExitCode2
}

// Decode parses one inbound frame. A frame that is not a JSON object with a
// string type, or whose body does not fit its type, is an error. Unrecognised
// types decode to *Unknown.
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("decode envelope: missing type")
	}

	var ev Event
	switch env.Type {
	case TypeSessionInfo:
		ev = &SessionInfo{}
	case TypeAuthSuccess:
		ev = &AuthSuccess{}
	case TypeProjectState:
		ev = &ProjectState{}
	case TypeFileSaved:
		ev = &FileSaved{}
	case TypeFileCreated:
		ev = &FileCreated{}
	case TypeFileDeleted:
		ev = &FileDeleted{}
	case TypeFileRenamed:
		ev = &FileRenamed{}
	case TypeExecutionStarted:
		ev = &ExecutionStarted{}
	case TypeOutput:
		ev = &Output{}
	case TypeInputRequired:
		ev = &InputRequired{}
	case TypeInputSent:
		ev = &InputSent{}
	case TypeExecutionStopped:
		ev = &ExecutionStopped{}
	case TypeCompileError:
		ev = &CompileError{}
	case TypeCompileSuccess:
		ev = &CompileSuccess{}
	case TypeOnlineUsers:
		ev = &OnlineUsers{}
	case TypeUserJoined:
		ev = &UserJoined{}
	case TypeUserLeft:
		ev = &UserLeft{}
	case TypeUserKicked:
		ev = &UserKicked{}
	case TypeUserKickedBroadcast:
		ev = &UserKickedBroadcast{}

	case TypeExecutionCompleted, TypeExecutionResult:
		var f exitFields
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		done := &ExecutionCompleted{Kind: env.Type, ExitCode: f.exitCode()}
		if f.Error != nil {
			done.Error = *f.Error
		}
		return done, nil

	case TypeError:
		var f exitFields
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		e := &ErrorEvent{ExitCode: f.exitCode()}
		switch {
		case f.Message != nil:
			e.Message = *f.Message
		case f.Error != nil:
			e.Message = *f.Error
		}
		return e, nil

	default:
		return &Unknown{Type: env.Type, Raw: append(json.RawMessage(nil), data...)}, nil
	}

	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	if fc, ok := ev.(*FileCreated); ok && fc.File == nil {
		return nil, fmt.Errorf("decode %s: missing file", env.Type)
	}
	return ev, nil
}
