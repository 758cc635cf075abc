package handler

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"trip_booking/model"
	"trip_booking/presence"
	"trip_booking/seatlock"
	"trip_booking/validate"
)

// wsConn is the part of *websocket.Conn a seat session uses.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	Close() error
}

type seatMapMessage struct {
	Type   string         `json:"type"`
	TripId uint           `json:"tripId"`
	Seats  []model.SeatUI `json:"seats"`
}

// SeatSocket streams one trip's seat events and takes lock/unlock actions.
// It expects tripId and holderId in Locals, set before the upgrade.
func (h *Handler) SeatSocket(c *websocket.Conn) {
	tripId, _ := c.Locals("tripId").(uint)
	holder, _ := c.Locals("holderId").(string)
	h.serveSeats(context.Background(), c, tripId, holder, uuid.NewString())
}

func (h *Handler) serveSeats(ctx context.Context, conn wsConn, tripId uint, holder, connID string) {
	log := h.Log.WithFields(logrus.Fields{"trip_id": tripId, "holder": holder, "conn": connID})
	defer conn.Close()

	// Subscribe before reading the baseline so no change falls in between.
	sub := h.Hub.Subscribe(tripId)
	defer sub.Close()

	seats, err := h.Locks.SeatMap(ctx, tripId)
	if err != nil {
		log.WithError(err).Warn("seat map for websocket")
		_ = conn.WriteJSON(model.FailedSeatEvent(model.EventSeatLockFailed, tripId, 0, userMessage(err, seatTaken), h.Locks.Clock().Now().UTC()))
		return
	}
	if err := conn.WriteJSON(seatMapMessage{Type: "SEAT_MAP", TripId: tripId, Seats: seats}); err != nil {
		return
	}

	h.Presence.Emit(presence.Event{Kind: presence.Connected, ConnID: connID, HolderID: holder, TripID: tripId})
	defer h.Presence.Emit(presence.Event{Kind: presence.Disconnected, ConnID: connID, HolderID: holder, TripID: tripId})
	log.Debug("seat socket connected")

	replies := make(chan model.SeatEvent, 16)
	done := make(chan struct{})
	writerDone := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(writerDone)
		for {
			var ev model.SeatEvent
			select {
			case <-done:
				return
			case e, ok := <-sub.Events():
				if !ok {
					// Dropped as a slow subscriber: the client must reconnect
					// and fetch a fresh seat map.
					_ = conn.Close()
					return
				}
				ev = e
			case ev = <-replies:
			}
			if err := conn.WriteJSON(ev); err != nil {
				_ = conn.Close()
				return
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var msg model.SeatAction
		reply, ok := model.SeatEvent{}, false
		if err := json.Unmarshal(raw, &msg); err != nil {
			reply, ok = model.FailedSeatEvent(model.EventSeatLockFailed, tripId, 0, "malformed message", h.Locks.Clock().Now().UTC()), true
		} else {
			reply, ok = h.seatAction(ctx, tripId, holder, connID, msg)
		}
		if ok {
			select {
			case replies <- reply:
			case <-writerDone:
			}
		}
	}

	close(done)
	wg.Wait()
	log.Debug("seat socket closed")
}

// seatAction applies one client request. Success is broadcast to every
// viewer through the hub; a failure is returned for the requester alone.
func (h *Handler) seatAction(ctx context.Context, tripId uint, holder, connID string, msg model.SeatAction) (model.SeatEvent, bool) {
	failed := model.EventSeatLockFailed
	if msg.Action == "unlock" {
		failed = model.EventSeatUnlockFailed
	}
	if err := validate.Struct(msg); err != nil {
		return model.FailedSeatEvent(failed, tripId, msg.SeatId, err.Error(), h.Locks.Clock().Now().UTC()), true
	}

	var err error
	switch msg.Action {
	case "lock":
		_, err = h.Locks.Lock(ctx, seatlock.LockRequest{TripId: tripId, SeatId: msg.SeatId, HolderId: holder})
		if err == nil {
			h.Presence.Emit(presence.Event{Kind: presence.Locked, ConnID: connID, HolderID: holder, TripID: tripId, SeatID: msg.SeatId})
		}
	case "unlock":
		_, err = h.Locks.Unlock(ctx, seatlock.UnlockRequest{TripId: tripId, SeatId: msg.SeatId, HolderId: holder})
		if err == nil {
			h.Presence.Emit(presence.Event{Kind: presence.Unlocked, ConnID: connID, HolderID: holder, TripID: tripId, SeatID: msg.SeatId})
		}
	}
	if err == nil {
		return model.SeatEvent{}, false
	}

	h.Log.WithError(err).WithFields(logrus.Fields{"trip_id": tripId, "seat_id": msg.SeatId, "holder": holder}).
		Debug("seat action rejected")
	reason := userMessage(err, seatTaken)
	if msg.Action == "unlock" {
		reason = userMessage(err, "seat cannot be released")
	}
	return model.FailedSeatEvent(failed, tripId, msg.SeatId, reason, h.Locks.Clock().Now().UTC()), true
}
