package errors

var (
	// Friend relationships
	ErrSelfRequest         = InvalidArg("cannot send a friend request to yourself")
	ErrAlreadyFriends      = AlreadyExists("users are already friends")
	ErrRequestExists       = AlreadyExists("a pending friend request already exists between these users")
	ErrRequestNotPending   = FailedPrecondition("friend request is no longer pending")
	ErrRelationshipClosed  = FailedPrecondition("friend request was already answered")
	ErrNotRecipient        = Forbidden("only the recipient can answer a friend request")
	ErrNotRequester        = Forbidden("only the requester can cancel a friend request")
	ErrNotFriends          = Forbidden("chat requires an accepted friendship")
	ErrRelationshipMissing = NotFound("friend request not found")
	ErrHandleNotFound      = NotFound("no user with that handle")

	// Conversations and rooms
	ErrInvalidPair          = InvalidArg("a conversation needs two distinct members")
	ErrConversationNotFound = NotFound("conversation not found")
	ErrVirtualConversation  = InvalidArg("conversation has not been created yet")
	ErrEmptyMessage         = InvalidArg("message text is empty")
	ErrSendInFlight         = Conflict("a send is already in progress")
	ErrRoomNotOpen          = FailedPrecondition("chat room is not open")

	// Session
	ErrNoSession = Unauthorized("no signed-in user")
)

func ErrSendFailed(cause error) error {
	return Wrap(CodeUnavailable, "message could not be sent", cause)
}

func ErrStoreUnavailable(cause error) error {
	return Wrap(CodeUnavailable, "remote store unavailable", cause)
}
