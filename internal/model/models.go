package model

import (
	"time"
)

// User 注册用户
type User struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Password     string  `json:"-"`
	RefreshToken *string `json:"-"`
}

// VotingRound 投票轮次，Open 为唯一有效的开放状态
type VotingRound struct {
	ID       string    `json:"id"`
	InitDate time.Time `json:"initDate"`
	EndDate  time.Time `json:"endDate"`
	Open     bool      `json:"open"`
}

// Participant 候选人
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Vote 投票记录，每个 (VotingID, UserID) 至多一条
type Vote struct {
	ID            string    `json:"id"`
	VotingID      string    `json:"votingId"`
	ParticipantID string    `json:"participantId"`
	UserID        string    `json:"userId"`
	CreatedAt     time.Time `json:"createdAt"`
}

// TallyEntry 计票结果，Count 等于对应 (VotingID, ParticipantID) 的投票数
type TallyEntry struct {
	ID            string `json:"id"`
	VotingID      string `json:"votingId"`
	ParticipantID string `json:"participantId"`
	Count         int    `json:"count"`
}

// VoteEvent Kafka投票事件，事务提交后发送
type VoteEvent struct {
	VoteID        string    `json:"voteId"`
	VotingID      string    `json:"votingId"`
	ParticipantID string    `json:"participantId"`
	UserID        string    `json:"userId"`
	Count         int       `json:"count"`
	VotedAt       time.Time `json:"votedAt"`
}

// AuthResult 注册/登录返回
type AuthResult struct {
	JWT          string `json:"jwt"`
	RefreshToken string `json:"refreshToken"`
	User         *User  `json:"user"`
}
