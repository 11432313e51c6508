package graph

import (
	"context"
	"net/http"
	"time"

	graphql "github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"

	"github.com/lvdashuaibi/roundvote/internal/apperr"
	"github.com/lvdashuaibi/roundvote/internal/auth"
	"github.com/lvdashuaibi/roundvote/internal/model"
	"github.com/lvdashuaibi/roundvote/internal/service"
)

const schemaString = `
type Voting {
  id: ID!
  initDate: String!
  endDate: String!
  open: Boolean!
}

type Participant {
  id: ID!
  name: String!
}

type Result {
  votingId: ID!
  participantId: ID!
  count: Int!
}

type Vote {
  id: ID!
  votingId: ID!
  participantId: ID!
  userId: ID!
  createdAt: String!
}

type Query {
  # 开放中的投票轮次
  votings: [Voting!]!

  participants: [Participant!]!

  # 计票结果，没有投票时 count 为 0
  result(voting: ID!, participant: ID!): Result!
}

type Mutation {
  # 以当前凭证身份投票
  vote(voting: ID!, participant: ID!): Vote!

  # 时间为 RFC3339
  createVoting(initDate: String!, endDate: String!): Voting!

  closeVoting(id: ID!): Voting!

  createParticipant(name: String!): Participant!
}

schema {
  query: Query
  mutation: Mutation
}
`

// NewHandler 创建 GraphQL HTTP 处理器，调用方需先经过鉴权中间件
func NewHandler(voteService *service.VoteService) http.Handler {
	schema := graphql.MustParseSchema(schemaString, &Resolver{voteService: voteService})
	return &relay.Handler{Schema: schema}
}

// Resolver GraphQL解析器
type Resolver struct {
	voteService *service.VoteService
}

func (r *Resolver) Votings(ctx context.Context) ([]*VotingResolver, error) {
	rounds, err := r.voteService.ListOpenRounds(ctx)
	if err != nil {
		return nil, err
	}
	resolvers := make([]*VotingResolver, len(rounds))
	for i, round := range rounds {
		resolvers[i] = &VotingResolver{round: round}
	}
	return resolvers, nil
}

func (r *Resolver) Participants(ctx context.Context) ([]*ParticipantResolver, error) {
	participants, err := r.voteService.ListParticipants(ctx)
	if err != nil {
		return nil, err
	}
	resolvers := make([]*ParticipantResolver, len(participants))
	for i, p := range participants {
		resolvers[i] = &ParticipantResolver{participant: p}
	}
	return resolvers, nil
}

func (r *Resolver) Result(ctx context.Context, args struct {
	Voting      graphql.ID
	Participant graphql.ID
}) (*ResultResolver, error) {
	entry, err := r.voteService.GetResult(ctx, string(args.Voting), string(args.Participant))
	if err != nil {
		return nil, err
	}
	return &ResultResolver{entry: entry}, nil
}

func (r *Resolver) Vote(ctx context.Context, args struct {
	Voting      graphql.ID
	Participant graphql.ID
}) (*VoteResolver, error) {
	claims, ok := auth.ClaimsFromContext(ctx)
	if !ok {
		return nil, apperr.New(apperr.Unauthenticated, "graph.Vote", "缺少身份信息")
	}
	vote, err := r.voteService.CastVote(ctx, string(args.Voting), string(args.Participant), claims.ID)
	if err != nil {
		return nil, err
	}
	return &VoteResolver{vote: vote}, nil
}

func (r *Resolver) CreateVoting(ctx context.Context, args struct {
	InitDate string
	EndDate  string
}) (*VotingResolver, error) {
	const op = "graph.CreateVoting"
	initDate, err := time.Parse(time.RFC3339, args.InitDate)
	if err != nil {
		return nil, apperr.E(apperr.InvalidInput, op, err)
	}
	endDate, err := time.Parse(time.RFC3339, args.EndDate)
	if err != nil {
		return nil, apperr.E(apperr.InvalidInput, op, err)
	}
	round, err := r.voteService.CreateRound(ctx, initDate, endDate)
	if err != nil {
		return nil, err
	}
	return &VotingResolver{round: round}, nil
}

func (r *Resolver) CloseVoting(ctx context.Context, args struct{ ID graphql.ID }) (*VotingResolver, error) {
	round, err := r.voteService.CloseRound(ctx, string(args.ID))
	if err != nil {
		return nil, err
	}
	return &VotingResolver{round: round}, nil
}

func (r *Resolver) CreateParticipant(ctx context.Context, args struct{ Name string }) (*ParticipantResolver, error) {
	p, err := r.voteService.CreateParticipant(ctx, args.Name)
	if err != nil {
		return nil, err
	}
	return &ParticipantResolver{participant: p}, nil
}

type VotingResolver struct {
	round *model.VotingRound
}

func (r *VotingResolver) ID() graphql.ID   { return graphql.ID(r.round.ID) }
func (r *VotingResolver) InitDate() string { return r.round.InitDate.Format(time.RFC3339) }
func (r *VotingResolver) EndDate() string  { return r.round.EndDate.Format(time.RFC3339) }
func (r *VotingResolver) Open() bool       { return r.round.Open }

type ParticipantResolver struct {
	participant *model.Participant
}

func (r *ParticipantResolver) ID() graphql.ID { return graphql.ID(r.participant.ID) }
func (r *ParticipantResolver) Name() string   { return r.participant.Name }

type ResultResolver struct {
	entry *model.TallyEntry
}

func (r *ResultResolver) VotingID() graphql.ID      { return graphql.ID(r.entry.VotingID) }
func (r *ResultResolver) ParticipantID() graphql.ID { return graphql.ID(r.entry.ParticipantID) }
func (r *ResultResolver) Count() int32              { return int32(r.entry.Count) }

type VoteResolver struct {
	vote *model.Vote
}

func (r *VoteResolver) ID() graphql.ID            { return graphql.ID(r.vote.ID) }
func (r *VoteResolver) VotingID() graphql.ID      { return graphql.ID(r.vote.VotingID) }
func (r *VoteResolver) ParticipantID() graphql.ID { return graphql.ID(r.vote.ParticipantID) }
func (r *VoteResolver) UserID() graphql.ID        { return graphql.ID(r.vote.UserID) }
func (r *VoteResolver) CreatedAt() string         { return r.vote.CreatedAt.Format(time.RFC3339) }
