package federation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vireonet/vireo/domain"
)

// Wire objects. Every payload that crosses a node boundary carries a "type"
// discriminator and an "id" FQID minted by the object's origin node.

// Object is the interface all inbox payload variants satisfy.
type Object interface {
	Kind() Kind
	FQID() string
	Validate() error
}

type AuthorObject struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	Host        string `json:"host"`
	DisplayName string `json:"displayName"`
	Web         string `json:"web"`
}

func (o *AuthorObject) Kind() Kind   { return KindAuthor }
func (o *AuthorObject) FQID() string { return o.ID }

func (o *AuthorObject) Validate() error {
	if _, err := ParseFQID(o.ID); err != nil {
		return err
	}
	return nil
}

type EntryObject struct {
	Type        string       `json:"type"`
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	ContentType string       `json:"contentType"`
	Content     string       `json:"content"`
	Visibility  string       `json:"visibility"`
	Published   time.Time    `json:"published"`
	Author      AuthorObject `json:"author"`
}

func (o *EntryObject) Kind() Kind   { return KindEntry }
func (o *EntryObject) FQID() string { return o.ID }

func (o *EntryObject) Validate() error {
	ref, err := ParseFQID(o.ID)
	if err != nil {
		return err
	}
	if ref.Kind != KindEntry {
		return fmt.Errorf("%w: entry id %q is not an entry fqid", ErrBadRequest, o.ID)
	}
	if err := o.Author.Validate(); err != nil {
		return err
	}
	if !domain.Visibility(o.Visibility).Valid() {
		return fmt.Errorf("%w: unknown visibility %q", ErrBadRequest, o.Visibility)
	}
	return nil
}

type CommentObject struct {
	Type        string       `json:"type"`
	ID          string       `json:"id"`
	Author      AuthorObject `json:"author"`
	Comment     string       `json:"comment"`
	ContentType string       `json:"contentType"`
	Published   time.Time    `json:"published"`
	Entry       string       `json:"entry"`
}

func (o *CommentObject) Kind() Kind   { return KindComment }
func (o *CommentObject) FQID() string { return o.ID }

func (o *CommentObject) Validate() error {
	ref, err := ParseFQID(o.ID)
	if err != nil {
		return err
	}
	if ref.Kind != KindComment {
		return fmt.Errorf("%w: comment id %q is not a comment fqid", ErrBadRequest, o.ID)
	}
	if err := o.Author.Validate(); err != nil {
		return err
	}
	entryRef, err := ParseFQID(o.Entry)
	if err != nil {
		return err
	}
	if entryRef.Kind != KindEntry {
		return fmt.Errorf("%w: comment target %q is not an entry fqid", ErrBadRequest, o.Entry)
	}
	return nil
}

type LikeObject struct {
	Type      string       `json:"type"`
	ID        string       `json:"id"`
	Summary   string       `json:"summary"`
	Author    AuthorObject `json:"author"`
	Object    string       `json:"object"`
	Published time.Time    `json:"published"`
}

func (o *LikeObject) Kind() Kind   { return KindLike }
func (o *LikeObject) FQID() string { return o.ID }

func (o *LikeObject) Validate() error {
	ref, err := ParseFQID(o.ID)
	if err != nil {
		return err
	}
	if ref.Kind != KindLike {
		return fmt.Errorf("%w: like id %q is not a like fqid", ErrBadRequest, o.ID)
	}
	if err := o.Author.Validate(); err != nil {
		return err
	}
	targetRef, err := ParseFQID(o.Object)
	if err != nil {
		return err
	}
	if targetRef.Kind != KindEntry && targetRef.Kind != KindComment {
		return fmt.Errorf("%w: like target %q is neither entry nor comment", ErrBadRequest, o.Object)
	}
	return nil
}

// Follow statuses carried on the wire. An empty status is a plain follow
// request; the other two are the target node's answer.
const (
	FollowStatusAccepted = "accepted"
	FollowStatusRejected = "rejected"
)

type FollowObject struct {
	Type    string       `json:"type"`
	ID      string       `json:"id"`
	Summary string       `json:"summary"`
	Actor   AuthorObject `json:"actor"`
	Object  AuthorObject `json:"object"`
	Status  string       `json:"status,omitempty"`
}

func (o *FollowObject) Kind() Kind   { return KindFollow }
func (o *FollowObject) FQID() string { return o.ID }

func (o *FollowObject) Validate() error {
	ref, err := ParseFQID(o.ID)
	if err != nil {
		return err
	}
	if ref.Kind != KindFollow {
		return fmt.Errorf("%w: follow id %q is not a follow fqid", ErrBadRequest, o.ID)
	}
	if err := o.Actor.Validate(); err != nil {
		return err
	}
	if err := o.Object.Validate(); err != nil {
		return err
	}
	if o.Actor.ID == o.Object.ID {
		return fmt.Errorf("%w: follow actor and object are the same author", ErrBadRequest)
	}
	switch o.Status {
	case "", FollowStatusAccepted, FollowStatusRejected:
	default:
		return fmt.Errorf("%w: unknown follow status %q", ErrBadRequest, o.Status)
	}
	return nil
}

// DecodeObject parses an inbox payload into its variant based on the type
// discriminator and validates it.
func DecodeObject(body []byte) (Object, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return nil, fmt.Errorf("%w: invalid json: %v", ErrBadRequest, err)
	}

	var obj Object
	switch Kind(head.Type) {
	case KindAuthor:
		obj = &AuthorObject{}
	case KindEntry:
		obj = &EntryObject{}
	case KindComment:
		obj = &CommentObject{}
	case KindLike:
		obj = &LikeObject{}
	case KindFollow:
		obj = &FollowObject{}
	default:
		return nil, fmt.Errorf("%w: unknown object type %q", ErrBadRequest, head.Type)
	}

	if err := json.Unmarshal(body, obj); err != nil {
		return nil, fmt.Errorf("%w: invalid %s payload: %v", ErrBadRequest, head.Type, err)
	}
	if err := obj.Validate(); err != nil {
		return nil, err
	}
	return obj, nil
}

// NewAuthorObject builds the wire form of an author.
func NewAuthorObject(a *domain.Author) AuthorObject {
	ref, _ := ParseFQID(a.FQID)
	return AuthorObject{
		Type:        string(KindAuthor),
		ID:          a.FQID,
		Host:        ref.BaseURL,
		DisplayName: a.DisplayName,
		Web:         a.ProfileURL,
	}
}

func NewEntryObject(e *domain.Entry, author *domain.Author) *EntryObject {
	return &EntryObject{
		Type:        string(KindEntry),
		ID:          e.FQID,
		Title:       e.Title,
		Description: e.Description,
		ContentType: e.ContentType,
		Content:     e.Content,
		Visibility:  string(e.Visibility),
		Published:   e.Published,
		Author:      NewAuthorObject(author),
	}
}

func NewCommentObject(c *domain.Comment, author *domain.Author) *CommentObject {
	return &CommentObject{
		Type:        string(KindComment),
		ID:          c.FQID,
		Author:      NewAuthorObject(author),
		Comment:     c.Content,
		ContentType: c.ContentType,
		Published:   c.Published,
		Entry:       c.EntryFQID,
	}
}

func NewLikeObject(l *domain.Like, author *domain.Author) *LikeObject {
	return &LikeObject{
		Type:      string(KindLike),
		ID:        l.FQID,
		Summary:   fmt.Sprintf("%s likes %s", author.DisplayName, l.ObjectFQID),
		Author:    NewAuthorObject(author),
		Object:    l.ObjectFQID,
		Published: l.Published,
	}
}

// AuthorOf returns the FQID of the author responsible for the object. Used
// by the dispatcher to keep per-author delivery order.
func AuthorOf(obj Object) string {
	switch o := obj.(type) {
	case *AuthorObject:
		return o.ID
	case *EntryObject:
		return o.Author.ID
	case *CommentObject:
		return o.Author.ID
	case *LikeObject:
		return o.Author.ID
	case *FollowObject:
		return o.Actor.ID
	}
	return ""
}
