package bili

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/onnwee/danmaku-relay/event"
	"github.com/onnwee/danmaku-relay/telemetry"
)

// systemSender signs synthesized notices (room entries, heartbeats) that have
// no natural chat author.
const systemSender = "SYSTEM"

var interactActions = map[int]string{
	1: "进入了房间",
	2: "关注了",
	3: "分享了",
	4: "特别关注了",
	5: "互粉了",
	6: "为主播点赞了",
}

type notification struct {
	Cmd  string          `json:"cmd"`
	Data json.RawMessage `json:"data"`
	Info json.RawMessage `json:"info"`
}

// mapNotification converts one JSON command payload into a relay event.
// Unknown or malformed commands return ok=false and are dropped; the upstream
// feed carries far more command types than the relay forwards.
func mapNotification(roomID string, body []byte) (event.Event, bool) {
	var n notification
	if err := json.Unmarshal(body, &n); err != nil {
		return event.Event{}, false
	}
	switch {
	// Danmaku commands arrive with suffixed variants like DANMU_MSG:4:0:2:2:2:0.
	case n.Cmd == "DANMU_MSG" || strings.HasPrefix(n.Cmd, "DANMU_MSG:"):
		return mapDanmaku(roomID, n.Info)
	case n.Cmd == "SEND_GIFT":
		return mapGift(roomID, n.Data)
	case n.Cmd == "GUARD_BUY":
		return mapGuardBuy(roomID, n.Data)
	case n.Cmd == "SUPER_CHAT_MESSAGE":
		return mapSuperChat(roomID, n.Data)
	case n.Cmd == "INTERACT_WORD":
		return mapInteract(roomID, n.Data)
	default:
		return event.Event{}, false
	}
}

// mapDanmaku digs the text and sender out of the positional info array:
// info[1] is the message text, info[2][1] the sender name.
func mapDanmaku(roomID string, info json.RawMessage) (event.Event, bool) {
	var fields []json.RawMessage
	if err := json.Unmarshal(info, &fields); err != nil || len(fields) < 3 {
		return event.Event{}, false
	}
	var text string
	if err := json.Unmarshal(fields[1], &text); err != nil {
		return event.Event{}, false
	}
	var user []json.RawMessage
	if err := json.Unmarshal(fields[2], &user); err != nil || len(user) < 2 {
		return event.Event{}, false
	}
	var uname string
	if err := json.Unmarshal(user[1], &uname); err != nil {
		return event.Event{}, false
	}
	return newEvent(event.KindChat, uname, text, roomID)
}

// newEvent wraps the constructor, counting validation rejections.
func newEvent(kind event.Kind, sender, body, roomID string) (event.Event, bool) {
	ev, err := event.New(kind, sender, body, roomID)
	if err != nil {
		telemetry.CountRejected()
		return event.Event{}, false
	}
	return ev, true
}

func mapGift(roomID string, data json.RawMessage) (event.Event, bool) {
	var d struct {
		Uname     string `json:"uname"`
		GiftName  string `json:"giftName"`
		Num       int    `json:"num"`
		CoinType  string `json:"coin_type"`
		TotalCoin int    `json:"total_coin"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return event.Event{}, false
	}
	body := fmt.Sprintf("赠送了 %sx%d （%s瓜子x%d）", d.GiftName, d.Num, d.CoinType, d.TotalCoin)
	return newEvent(event.KindGift, d.Uname, body, roomID)
}

func mapGuardBuy(roomID string, data json.RawMessage) (event.Event, bool) {
	var d struct {
		Username string `json:"username"`
		GiftName string `json:"gift_name"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return event.Event{}, false
	}
	return newEvent(event.KindGift, d.Username, "购买了 "+d.GiftName, roomID)
}

func mapSuperChat(roomID string, data json.RawMessage) (event.Event, bool) {
	var d struct {
		Price    int    `json:"price"`
		Message  string `json:"message"`
		UserInfo struct {
			Uname string `json:"uname"`
		} `json:"user_info"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return event.Event{}, false
	}
	body := fmt.Sprintf("¥%d %s", d.Price, d.Message)
	return newEvent(event.KindChat, d.UserInfo.Uname, body, roomID)
}

func mapInteract(roomID string, data json.RawMessage) (event.Event, bool) {
	var d struct {
		Uname   string `json:"uname"`
		MsgType int    `json:"msg_type"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return event.Event{}, false
	}
	action, ok := interactActions[d.MsgType]
	if !ok {
		return event.Event{}, false
	}
	return newEvent(event.KindRoomEntry, systemSender, d.Uname+" "+action, roomID)
}

// popularityEvent renders a heartbeat reply as a system notice carrying the
// room's current popularity figure.
func popularityEvent(roomID string, popularity uint32) (event.Event, bool) {
	body := fmt.Sprintf("[%s] 心跳包 - %d", roomID, popularity)
	return newEvent(event.KindChat, systemSender, body, roomID)
}
