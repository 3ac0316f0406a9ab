package http

import (
	"encoding/json"

	"github.com/vovakirdan/mindsync/internal/core"
	"github.com/vovakirdan/mindsync/internal/proto"
	"github.com/vovakirdan/mindsync/internal/store"
)

func badRequest(msg string) *proto.Error {
	return &proto.Error{Code: core.ErrCodeBadRequest, Msg: msg}
}

func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Error) {
	switch inbound.Type {
	case proto.InboundTypeJoinRoom, proto.InboundTypeLeaveRoom:
		var room proto.RoomData
		if err := json.Unmarshal(inbound.Data, &room); err != nil {
			return nil, badRequest("malformed " + inbound.Type + " data")
		}
		if room.DocumentID == "" {
			return nil, badRequest("documentId is required")
		}
		kind := core.CommandJoinRoom
		if inbound.Type == proto.InboundTypeLeaveRoom {
			kind = core.CommandLeaveRoom
		}
		return &core.Command{Kind: kind, DocumentID: room.DocumentID}, nil
	case proto.InboundTypeChangeBroadcast:
		var change proto.ChangeData
		if err := json.Unmarshal(inbound.Data, &change); err != nil {
			return nil, badRequest("malformed change-broadcast data")
		}
		if change.DocumentID == "" {
			return nil, badRequest("documentId is required")
		}
		return &core.Command{
			Kind:       core.CommandBroadcastChange,
			DocumentID: change.DocumentID,
			ChangeType: change.ChangeType,
			Payload:    change.Payload,
		}, nil
	case proto.InboundTypeCursorMove:
		var move proto.CursorMoveData
		if err := json.Unmarshal(inbound.Data, &move); err != nil {
			return nil, badRequest("malformed cursor-move data")
		}
		return &core.Command{
			Kind:       core.CommandMoveCursor,
			DocumentID: move.DocumentID,
			Cursor:     core.Cursor{X: move.Cursor.X, Y: move.Cursor.Y},
		}, nil
	case proto.InboundTypeSelectionUpdate:
		var sel proto.SelectionData
		if err := json.Unmarshal(inbound.Data, &sel); err != nil {
			return nil, badRequest("malformed selection-update data")
		}
		return &core.Command{
			Kind:       core.CommandUpdateSelection,
			DocumentID: sel.DocumentID,
			NodeIDs:    sel.NodeIDs,
		}, nil
	default:
		return nil, badRequest("unknown message type " + inbound.Type)
	}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventAuthenticated:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventAuthenticated,
			Data: proto.Authenticated{
				UserID:   event.User.UserID,
				Username: event.User.Username,
				Avatar:   event.User.Avatar,
				Protocol: proto.ProtocolVersion,
			},
		}
	case core.EventJoinAck:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventJoinRoomAck,
			Data: proto.JoinRoomAck{
				DocumentID:         event.DocumentID,
				ActiveParticipants: participantsToProto(event.Participants),
			},
		}
	case core.EventParticipantJoined:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventParticipantJoined,
			Data: proto.ParticipantJoined{
				DocumentID: event.DocumentID,
				UserID:     event.User.UserID,
				Username:   event.User.Username,
				Avatar:     event.User.Avatar,
			},
		}
	case core.EventParticipantLeft:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventParticipantLeft,
			Data: proto.ParticipantLeft{
				DocumentID: event.DocumentID,
				UserID:     event.User.UserID,
			},
		}
	case core.EventChange:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventChangeBroadcast,
			Data: proto.ChangeBroadcast{
				DocumentID:   event.DocumentID,
				OriginUserID: event.User.UserID,
				ChangeType:   event.ChangeType,
				Payload:      event.Payload,
				Timestamp:    event.Timestamp.UnixMilli(),
			},
		}
	case core.EventCursor:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventCursorUpdate,
			Data: proto.CursorUpdate{
				DocumentID: event.DocumentID,
				UserID:     event.User.UserID,
				Username:   event.User.Username,
				Cursor:     proto.Cursor{X: event.Cursor.X, Y: event.Cursor.Y},
			},
		}
	case core.EventSelection:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventSelectionBroadcast,
			Data: proto.SelectionBroadcast{
				DocumentID: event.DocumentID,
				UserID:     event.User.UserID,
				Username:   event.User.Username,
				NodeIDs:    event.NodeIDs,
			},
		}
	case core.EventError:
		if event.Error == nil {
			return roomError(event.DocumentID, &proto.Error{Code: "unknown", Msg: "unknown error"})
		}
		return roomError(event.DocumentID, &proto.Error{Code: event.Error.Code, Msg: event.Error.Message})
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}

// roomError builds an error frame. The code is carried both in the error
// object and in the room-error data.
func roomError(documentID string, perr *proto.Error) proto.Outbound {
	return proto.Outbound{
		Type:  proto.OutboundTypeError,
		Event: proto.EventRoomError,
		Data: proto.RoomError{
			DocumentID: documentID,
			Code:       perr.Code,
			Reason:     perr.Msg,
		},
		Error: perr,
	}
}

// participantsToProto collapses a per-connection roster into one entry per
// user, keeping the earliest join and the most recent cursor.
func participantsToProto(roster []store.Participant) []proto.Participant {
	out := make([]proto.Participant, 0, len(roster))
	index := make(map[string]int, len(roster))
	for _, p := range roster {
		var cursor *proto.Cursor
		if p.Cursor != nil {
			cursor = &proto.Cursor{X: p.Cursor.X, Y: p.Cursor.Y}
		}
		if i, ok := index[p.UserID]; ok {
			if cursor != nil {
				out[i].Cursor = cursor
			}
			continue
		}
		index[p.UserID] = len(out)
		out = append(out, proto.Participant{
			UserID:   p.UserID,
			Username: p.Username,
			Avatar:   p.Avatar,
			Cursor:   cursor,
		})
	}
	return out
}
