package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/example/teaminbox/internal/auth"
	"github.com/example/teaminbox/internal/datamodels/assignment"
	"github.com/example/teaminbox/internal/datamodels/audit"
	"github.com/example/teaminbox/internal/event"
	"github.com/example/teaminbox/internal/storage"
)

// AssignmentService 会话归属引擎。
// 所有变更都在单个事务里完成：先用行锁锁住会话行（会话行一定存在，
// 活跃归属行在无人认领时不存在、锁不住），再做判断和写入，
// 保证并发 claim/reassign/release 在同一会话上全序执行；
// 不同会话之间互不阻塞。
type AssignmentService struct {
	store     storage.Store
	publisher event.Publisher
}

// NewAssignmentService 创建归属服务
func NewAssignmentService(store storage.Store, publisher event.Publisher) *AssignmentService {
	return &AssignmentService{store: store, publisher: publisher}
}

// Claim 认领会话。
// 无活跃归属则插入新归属；已被自己持有则为幂等成功；
// 被他人持有返回 409 冲突。
func (s *AssignmentService) Claim(ctx context.Context, conversationID, teamID, actorUserID int64) (*assignment.Assignment, error) {
	if conversationID <= 0 || teamID <= 0 {
		return nil, NewValidationError("conversationId 和 teamId 不能为空")
	}

	var result *assignment.Assignment
	var mutated bool
	err := s.store.InTx(ctx, func(tx storage.Store) error {
		conv, err := tx.Conversations().GetForUpdate(ctx, conversationID)
		if err != nil {
			return err
		}
		if conv == nil {
			return NewNotFoundError("会话 %d 不存在", conversationID)
		}

		active, err := tx.Assignments().ActiveForUpdate(ctx, conversationID)
		if err != nil {
			return err
		}
		if active != nil {
			if active.AssigneeUserID == actorUserID {
				// 重复认领自己持有的会话不是错误，也不产生新记录
				result = active
				return nil
			}
			return NewConflictError("会话已被用户 %d 认领", active.AssigneeUserID)
		}

		a := &assignment.Assignment{
			ConversationID: conversationID,
			TeamID:         teamID,
			AssigneeUserID: actorUserID,
			AssignedAt:     time.Now(),
		}
		if err := tx.Assignments().Create(ctx, a); err != nil {
			return err
		}
		if err := tx.Audits().Create(ctx, &audit.Record{
			ActorUserID:    actorUserID,
			Action:         audit.ActionClaim,
			ConversationID: conversationID,
			Detail:         fmt.Sprintf("team=%d assignee=%d", teamID, actorUserID),
		}); err != nil {
			return err
		}
		result = a
		mutated = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if mutated {
		s.publish(event.TypeAssignmentClaimed, result.ConversationID, result.TeamID, map[string]interface{}{
			"conversation_id": result.ConversationID,
			"team_id":         result.TeamID,
			"assignee_id":     result.AssigneeUserID,
		})
	}
	return result, nil
}

// Reassign 改派会话（仅管理员）。
// 释放当前活跃归属并插入新归属，两步在同一事务里，不会出现双活跃。
func (s *AssignmentService) Reassign(ctx context.Context, conversationID, teamID, newAssigneeID int64, actorRole string, actorUserID int64) (*assignment.Assignment, error) {
	if conversationID <= 0 || teamID <= 0 || newAssigneeID <= 0 {
		return nil, NewValidationError("conversationId、teamId 和 newAssigneeUserId 不能为空")
	}
	if actorRole != auth.RoleAdmin {
		return nil, NewForbiddenError("仅管理员可以改派会话")
	}

	var result *assignment.Assignment
	var previous *assignment.Assignment
	err := s.store.InTx(ctx, func(tx storage.Store) error {
		conv, err := tx.Conversations().GetForUpdate(ctx, conversationID)
		if err != nil {
			return err
		}
		if conv == nil {
			return NewNotFoundError("会话 %d 不存在", conversationID)
		}

		active, err := tx.Assignments().ActiveForUpdate(ctx, conversationID)
		if err != nil {
			return err
		}
		now := time.Now()
		if active != nil {
			if err := tx.Assignments().Release(ctx, active.ID, now); err != nil {
				return err
			}
			previous = active
		}

		a := &assignment.Assignment{
			ConversationID: conversationID,
			TeamID:         teamID,
			AssigneeUserID: newAssigneeID,
			AssignedAt:     now,
		}
		if err := tx.Assignments().Create(ctx, a); err != nil {
			return err
		}
		if err := tx.Audits().Create(ctx, &audit.Record{
			ActorUserID:    actorUserID,
			Action:         audit.ActionReassign,
			ConversationID: conversationID,
			Detail:         fmt.Sprintf("team=%d assignee=%d previous=%d", teamID, newAssigneeID, previousAssignee(active)),
		}); err != nil {
			return err
		}
		result = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	data := map[string]interface{}{
		"conversation_id": result.ConversationID,
		"team_id":         result.TeamID,
		"assignee_id":     result.AssigneeUserID,
	}
	if previous != nil {
		data["previous_assignee_id"] = previous.AssigneeUserID
	}
	s.publish(event.TypeAssignmentReassigned, result.ConversationID, result.TeamID, data)
	return result, nil
}

// Release 释放会话归属。
// 非管理员只能释放自己持有的归属；无活跃归属时为幂等成功。
func (s *AssignmentService) Release(ctx context.Context, conversationID int64, actorRole string, actorUserID int64) error {
	if conversationID <= 0 {
		return NewValidationError("conversationId 不能为空")
	}

	var released *assignment.Assignment
	err := s.store.InTx(ctx, func(tx storage.Store) error {
		conv, err := tx.Conversations().GetForUpdate(ctx, conversationID)
		if err != nil {
			return err
		}
		if conv == nil {
			return NewNotFoundError("会话 %d 不存在", conversationID)
		}

		active, err := tx.Assignments().ActiveForUpdate(ctx, conversationID)
		if err != nil {
			return err
		}
		if active == nil {
			return nil
		}
		if actorRole != auth.RoleAdmin && active.AssigneeUserID != actorUserID {
			return NewForbiddenError("只能释放自己持有的会话")
		}
		if err := tx.Assignments().Release(ctx, active.ID, time.Now()); err != nil {
			return err
		}
		if err := tx.Audits().Create(ctx, &audit.Record{
			ActorUserID:    actorUserID,
			Action:         audit.ActionRelease,
			ConversationID: conversationID,
			Detail:         fmt.Sprintf("assignee=%d", active.AssigneeUserID),
		}); err != nil {
			return err
		}
		released = active
		return nil
	})
	if err != nil {
		return err
	}
	if released != nil {
		s.publish(event.TypeAssignmentReleased, released.ConversationID, released.TeamID, map[string]interface{}{
			"conversation_id": released.ConversationID,
			"team_id":         released.TeamID,
			"assignee_id":     released.AssigneeUserID,
		})
	}
	return nil
}

// History 查询会话归属历史
func (s *AssignmentService) History(ctx context.Context, conversationID int64) ([]*assignment.Assignment, error) {
	return s.store.Assignments().History(ctx, conversationID)
}

func (s *AssignmentService) publish(typ string, conversationID, teamID int64, data map[string]interface{}) {
	if s.publisher == nil {
		return
	}
	rooms := []string{event.RoomConversation(conversationID), event.RoomTeam(teamID)}
	if err := s.publisher.Publish(typ, rooms, data); err != nil {
		log.Printf("publish %s failed: %v", typ, err)
		GetMonitor().RecordMQError()
	}
}

func previousAssignee(a *assignment.Assignment) int64 {
	if a == nil {
		return 0
	}
	return a.AssigneeUserID
}
