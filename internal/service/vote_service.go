package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/lvdashuaibi/roundvote/internal/apperr"
	"github.com/lvdashuaibi/roundvote/internal/credential"
	"github.com/lvdashuaibi/roundvote/internal/ledger"
	"github.com/lvdashuaibi/roundvote/internal/model"
	"github.com/lvdashuaibi/roundvote/internal/repository"
)

// Store 服务层使用的持久化操作，由 repository.SQLRepository 实现
type Store interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByName(ctx context.Context, name string) (*model.User, error)
	GetUserByRefreshToken(ctx context.Context, token string) (*model.User, error)
	SetRefreshToken(ctx context.Context, userID string, token *string) error

	CreateRound(ctx context.Context, round *model.VotingRound) error
	GetRoundByID(ctx context.Context, id string) (*model.VotingRound, error)
	ListOpenRounds(ctx context.Context) ([]*model.VotingRound, error)
	SetRoundOpen(ctx context.Context, id string, open bool) error

	CreateParticipant(ctx context.Context, participant *model.Participant) error
	ListParticipants(ctx context.Context) ([]*model.Participant, error)

	GetTally(ctx context.Context, votingID, participantID string) (*model.TallyEntry, error)
}

// Voter 投票账本
type Voter interface {
	Cast(ctx context.Context, votingID, participantID, userID string) (*ledger.Ballot, error)
}

// Issuer 签发访问凭证
type Issuer interface {
	Issue(identity credential.Identity, subject string, ttl time.Duration) (string, error)
}

// ResultCache 计票结果缓存，由 repository.RedisRepository 实现
type ResultCache interface {
	GetTally(ctx context.Context, votingID, participantID string) (*model.TallyEntry, bool, error)
	SetTally(ctx context.Context, entry *model.TallyEntry) error
	DeleteTally(ctx context.Context, votingID, participantID string) error
}

// EventPublisher 投票事件发送，由 kafka.Producer 实现
type EventPublisher interface {
	SendVoteEvent(ctx context.Context, event *model.VoteEvent) error
}

type VoteService struct {
	store      Store
	voter      Voter
	issuer     Issuer
	cache      ResultCache
	events     EventPublisher
	log        logrus.FieldLogger
	tokenTTL   time.Duration
	bcryptCost int
}

type Option func(*VoteService)

// WithCache 启用计票结果缓存
func WithCache(cache ResultCache) Option {
	return func(s *VoteService) { s.cache = cache }
}

// WithEvents 启用投票事件
func WithEvents(events EventPublisher) Option {
	return func(s *VoteService) { s.events = events }
}

func WithTokenTTL(ttl time.Duration) Option {
	return func(s *VoteService) { s.tokenTTL = ttl }
}

func WithBcryptCost(cost int) Option {
	return func(s *VoteService) { s.bcryptCost = cost }
}

func NewVoteService(store Store, voter Voter, issuer Issuer, log logrus.FieldLogger, opts ...Option) *VoteService {
	s := &VoteService{
		store:      store,
		voter:      voter,
		issuer:     issuer,
		log:        log,
		tokenTTL:   credential.DefaultTTL,
		bcryptCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register 注册用户并签发凭证
func (s *VoteService) Register(ctx context.Context, name, password string) (*model.AuthResult, error) {
	const op = "service.Register"

	name = strings.TrimSpace(name)
	if name == "" || password == "" {
		return nil, apperr.New(apperr.InvalidInput, op, "用户名和密码不能为空")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, apperr.E(apperr.InvalidInput, op, err)
	}

	user := &model.User{ID: uuid.NewString(), Name: name, Password: string(hash)}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.E(apperr.InvalidInput, op, err)
		}
		return nil, apperr.E(apperr.PersistenceFailure, op, err)
	}

	s.log.WithField("user", user.ID).Info("用户注册成功")
	return s.issueFor(ctx, op, user)
}

// Login 校验密码并签发凭证，用户不存在与密码错误不做区分
func (s *VoteService) Login(ctx context.Context, name, password string) (*model.AuthResult, error) {
	const op = "service.Login"

	user, err := s.store.GetUserByName(ctx, strings.TrimSpace(name))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.Unauthenticated, op, "用户名或密码错误")
		}
		return nil, apperr.E(apperr.PersistenceFailure, op, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, apperr.New(apperr.Unauthenticated, op, "用户名或密码错误")
	}

	return s.issueFor(ctx, op, user)
}

// Refresh 使用刷新令牌换取新凭证，旧刷新令牌随即失效
func (s *VoteService) Refresh(ctx context.Context, refreshToken string) (*model.AuthResult, error) {
	const op = "service.Refresh"

	if refreshToken == "" {
		return nil, apperr.New(apperr.Unauthenticated, op, "缺少刷新令牌")
	}
	user, err := s.store.GetUserByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.Unauthenticated, op, "刷新令牌无效")
		}
		return nil, apperr.E(apperr.PersistenceFailure, op, err)
	}
	return s.issueFor(ctx, op, user)
}

func (s *VoteService) issueFor(ctx context.Context, op string, user *model.User) (*model.AuthResult, error) {
	jwt, err := s.issuer.Issue(credential.Identity{ID: user.ID, Name: user.Name}, user.ID, s.tokenTTL)
	if err != nil {
		return nil, apperr.E(apperr.IssuanceFailure, op, err)
	}

	refresh, err := newRefreshToken()
	if err != nil {
		return nil, apperr.E(apperr.IssuanceFailure, op, err)
	}
	if err := s.store.SetRefreshToken(ctx, user.ID, &refresh); err != nil {
		return nil, apperr.E(apperr.PersistenceFailure, op, err)
	}
	user.RefreshToken = &refresh

	return &model.AuthResult{JWT: jwt, RefreshToken: refresh, User: user}, nil
}

func newRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// CastVote 投票，提交后清除计票缓存并发送投票事件
func (s *VoteService) CastVote(ctx context.Context, votingID, participantID, userID string) (*model.Vote, error) {
	if votingID == "" || participantID == "" {
		return nil, apperr.New(apperr.InvalidInput, "service.CastVote", "voting 和 participant 不能为空")
	}

	ballot, err := s.voter.Cast(ctx, votingID, participantID, userID)
	if err != nil {
		return nil, err
	}

	// 以下步骤在事务提交之后，失败只记录日志
	s.invalidate(ctx, votingID, participantID)
	if s.events != nil {
		event := &model.VoteEvent{
			VoteID:        ballot.Vote.ID,
			VotingID:      votingID,
			ParticipantID: participantID,
			UserID:        userID,
			Count:         ballot.Tally.Count,
			VotedAt:       ballot.Vote.CreatedAt,
		}
		if err := s.events.SendVoteEvent(ctx, event); err != nil {
			s.log.WithError(err).WithField("vote", ballot.Vote.ID).Warn("发送投票事件到Kafka失败")
		}
	}
	return ballot.Vote, nil
}

// GetResult 读取计票结果，优先读缓存；尚无投票时返回 count=0
func (s *VoteService) GetResult(ctx context.Context, votingID, participantID string) (*model.TallyEntry, error) {
	const op = "service.GetResult"

	if votingID == "" || participantID == "" {
		return nil, apperr.New(apperr.InvalidInput, op, "voting 和 participant 不能为空")
	}

	if s.cache != nil {
		entry, found, err := s.cache.GetTally(ctx, votingID, participantID)
		if err != nil {
			s.log.WithError(err).Debug("读取计票缓存失败")
		} else if found {
			return entry, nil
		}
	}

	entry, err := s.store.GetTally(ctx, votingID, participantID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.E(apperr.PersistenceFailure, op, err)
		}
		if _, err := s.store.GetRoundByID(ctx, votingID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, apperr.E(apperr.NotFound, op, err)
			}
			return nil, apperr.E(apperr.PersistenceFailure, op, err)
		}
		return &model.TallyEntry{VotingID: votingID, ParticipantID: participantID}, nil
	}

	if s.cache != nil {
		if err := s.cache.SetTally(ctx, entry); err != nil {
			s.log.WithError(err).Debug("更新计票缓存失败")
		}
	}
	return entry, nil
}

// ProcessVoteEvent 处理投票事件（消费者使用），其他实例据此清除本地可见的缓存
func (s *VoteService) ProcessVoteEvent(ctx context.Context, event *model.VoteEvent) error {
	s.invalidate(ctx, event.VotingID, event.ParticipantID)
	s.log.WithFields(logrus.Fields{
		"vote":   event.VoteID,
		"voting": event.VotingID,
		"count":  event.Count,
	}).Debug("处理投票事件成功")
	return nil
}

func (s *VoteService) invalidate(ctx context.Context, votingID, participantID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteTally(ctx, votingID, participantID); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"voting":      votingID,
			"participant": participantID,
		}).Warn("删除计票缓存失败")
	}
}

// CreateRound 创建开放的投票轮次
func (s *VoteService) CreateRound(ctx context.Context, initDate, endDate time.Time) (*model.VotingRound, error) {
	const op = "service.CreateRound"

	if initDate.IsZero() || endDate.IsZero() || endDate.Before(initDate) {
		return nil, apperr.New(apperr.InvalidInput, op, "endDate 不能早于 initDate")
	}
	round := &model.VotingRound{
		ID:       uuid.NewString(),
		InitDate: initDate.UTC(),
		EndDate:  endDate.UTC(),
		Open:     true,
	}
	if err := s.store.CreateRound(ctx, round); err != nil {
		return nil, apperr.E(apperr.PersistenceFailure, op, err)
	}
	return round, nil
}

func (s *VoteService) ListOpenRounds(ctx context.Context) ([]*model.VotingRound, error) {
	rounds, err := s.store.ListOpenRounds(ctx)
	if err != nil {
		return nil, apperr.E(apperr.PersistenceFailure, "service.ListOpenRounds", err)
	}
	return rounds, nil
}

// CloseRound 关闭轮次，之后的投票返回 RoundClosed
func (s *VoteService) CloseRound(ctx context.Context, id string) (*model.VotingRound, error) {
	const op = "service.CloseRound"

	if err := s.store.SetRoundOpen(ctx, id, false); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.E(apperr.NotFound, op, err)
		}
		return nil, apperr.E(apperr.PersistenceFailure, op, err)
	}
	round, err := s.store.GetRoundByID(ctx, id)
	if err != nil {
		return nil, apperr.E(apperr.PersistenceFailure, op, err)
	}
	return round, nil
}

func (s *VoteService) CreateParticipant(ctx context.Context, name string) (*model.Participant, error) {
	const op = "service.CreateParticipant"

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.New(apperr.InvalidInput, op, "候选人名称不能为空")
	}
	p := &model.Participant{ID: uuid.NewString(), Name: name}
	if err := s.store.CreateParticipant(ctx, p); err != nil {
		return nil, apperr.E(apperr.PersistenceFailure, op, err)
	}
	return p, nil
}

func (s *VoteService) ListParticipants(ctx context.Context) ([]*model.Participant, error) {
	participants, err := s.store.ListParticipants(ctx)
	if err != nil {
		return nil, apperr.E(apperr.PersistenceFailure, "service.ListParticipants", err)
	}
	return participants, nil
}
