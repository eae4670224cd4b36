package http

import (
	"encoding/json"
	"log"
	"net/http"

	"wfd-room-service/internal/app"
	"wfd-room-service/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type WSHandler struct {
	service          *app.RoomService
	defaultPhraseSet string
	upgrader         websocket.Upgrader
}

func NewWSHandler(service *app.RoomService, defaultPhraseSet string) *WSHandler {
	return &WSHandler{
		service:          service,
		defaultPhraseSet: defaultPhraseSet,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type submitPayload struct {
	Answer string `json:"answer"`
}

type typingPayload struct {
	IsTyping bool `json:"isTyping"`
}

type assignPhrasePayload struct {
	Phrase string `json:"phrase"`
	Index  int    `json:"index"`
}

type visibilityPayload struct {
	Show bool `json:"show"`
}

type removePayload struct {
	ParticipantID string `json:"participantId"`
}

type joinedPayload struct {
	RoomID string              `json:"roomId"`
	UserID string              `json:"userId"`
	IsHost bool                `json:"isHost"`
	Room   domain.RoomSnapshot `json:"room"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades HTTP requests to websockets and wires them into the room
// use cases. A connection without a roomId creates a new room with the caller
// as host; otherwise the caller joins the given room.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("roomId")
	userID := r.URL.Query().Get("userId")
	nickname := r.URL.Query().Get("name")
	if nickname == "" {
		http.Error(w, "missing name", http.StatusBadRequest)
		return
	}
	if userID == "" {
		userID = uuid.NewString()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var snap domain.RoomSnapshot
	if roomID == "" {
		snap, err = h.service.CreateRoom(r.Context(), userID, nickname, h.defaultPhraseSet)
	} else {
		snap, err = h.service.Join(r.Context(), roomID, userID, nickname)
	}
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	roomID = snap.RoomID

	updates, cancel, err := h.service.Subscribe(r.Context(), roomID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancel()
	defer h.service.Leave(r.Context(), roomID, userID)

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "room", Payload: update}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "joined", Payload: joinedPayload{
		RoomID: roomID,
		UserID: userID,
		IsHost: snap.HostID == userID,
		Room:   snap,
	}}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		h.dispatch(r, send, roomID, userID, inbound)
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) dispatch(r *http.Request, send chan outboundMessage[any], roomID, userID string, inbound inboundMessage) {
	fail := func(msg string) {
		send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: msg}}
	}

	switch inbound.Type {
	case "submit":
		var payload submitPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			fail("invalid submit payload")
			return
		}
		result, _, err := h.service.Submit(r.Context(), roomID, userID, payload.Answer)
		if err != nil {
			fail(err.Error())
			return
		}
		send <- outboundMessage[any]{Type: "submissionResult", Payload: result}
	case "typing":
		var payload typingPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			fail("invalid typing payload")
			return
		}
		if _, err := h.service.UpdateTyping(r.Context(), roomID, userID, payload.IsTyping); err != nil {
			fail(err.Error())
		}
	case "assignPhrase":
		var payload assignPhrasePayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			fail("invalid assignPhrase payload")
			return
		}
		if _, err := h.service.AssignPhrase(r.Context(), roomID, userID, payload.Phrase, payload.Index); err != nil {
			fail(err.Error())
		}
	case "nextPhrase":
		if _, err := h.service.NextPhrase(r.Context(), roomID, userID); err != nil {
			fail(err.Error())
		}
	case "toggleVisibility":
		var payload visibilityPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			fail("invalid toggleVisibility payload")
			return
		}
		if _, err := h.service.ToggleVisibility(r.Context(), roomID, userID, payload.Show); err != nil {
			fail(err.Error())
		}
	case "removeParticipant":
		var payload removePayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			fail("invalid removeParticipant payload")
			return
		}
		if _, err := h.service.RemoveParticipant(r.Context(), roomID, userID, payload.ParticipantID); err != nil {
			fail(err.Error())
		}
	default:
		fail("unsupported message type")
	}
}
