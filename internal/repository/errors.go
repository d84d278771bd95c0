package repository

import (
	"errors"

	"github.com/noah-isme/topic-registry-api/pkg/database"
)

// Sentinel errors raised from inside workflow transactions. Services map them to API errors.
var (
	ErrAlreadyTaken        = errors.New("topic already held by another group")
	ErrAlreadyRegistered   = errors.New("group already holds another topic")
	ErrDuplicateMembership = errors.New("user already in a group for this class")
	ErrGroupFull           = errors.New("group is at topic capacity")
	ErrOverCapacity        = errors.New("group larger than topic capacity")
	ErrClassMismatch       = errors.New("group and topic classes differ")
	ErrTopicNotApproved    = errors.New("topic not approved")
	ErrRegistrationClosed  = errors.New("registration deadline passed")
	ErrNotMember           = errors.New("user is not a member of the group")
	ErrTopicRegistered     = errors.New("topic held by a group")
	ErrDuplicateSwap       = errors.New("pending swap request already exists")
	ErrNotPending          = errors.New("swap request not pending")
	ErrSwapStale           = errors.New("swap pairing no longer holds")
	ErrReferenceMissing    = errors.New("referenced row missing")
	ErrEmptyGroup          = errors.New("group has no members")
)

// Constraint names from migrations/0001_init.sql.
const (
	constraintGroupTopicUnique  = "student_groups_topic_id_key"
	constraintGroupTopicClassFK = "student_groups_topic_class_fkey"
	constraintMemberUserClass   = "student_group_members_user_class_key"
	constraintMemberPK          = "student_group_members_pkey"
	constraintSwapPending       = "topic_swap_requests_pending_key"
)

// translate maps constraint violations to sentinels, leaving other errors untouched.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case database.IsUniqueViolation(err, constraintGroupTopicUnique):
		return ErrAlreadyTaken
	case database.IsUniqueViolation(err, constraintMemberUserClass, constraintMemberPK):
		return ErrDuplicateMembership
	case database.IsUniqueViolation(err, constraintSwapPending):
		return ErrDuplicateSwap
	case database.IsForeignKeyViolation(err, constraintGroupTopicClassFK):
		return ErrClassMismatch
	case database.IsForeignKeyViolation(err):
		return ErrReferenceMissing
	default:
		return err
	}
}
