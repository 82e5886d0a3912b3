package api

import (
	"errors"
	"io"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestRequestValidation(t *testing.T) {
	Convey("Given command requests", t, func() {
		Convey("Create needs a manager", func() {
			So(createRequest{ArenaID: "a"}.validate(), ShouldNotBeNil)
			So(createRequest{ManagerID: "m"}.validate(), ShouldBeNil)
		})

		Convey("Captain changes need a user", func() {
			So(captainRequest{UserID: "  "}.validate(), ShouldNotBeNil)
			So(captainRequest{UserID: "u"}.validate(), ShouldBeNil)
		})

		Convey("Bids need captain and player", func() {
			So(bidRequest{PlayerID: "p"}.validate().Error(), ShouldContainSubstring, "captainId")
			So(bidRequest{CaptainID: "c"}.validate().Error(), ShouldContainSubstring, "playerId")
			So(bidRequest{CaptainID: "c", PlayerID: "p"}.validate(), ShouldBeNil)
		})

		Convey("Skip and cancel need a requester", func() {
			So(requesterRequest{}.validate(), ShouldNotBeNil)
			So(requesterRequest{RequesterID: "r"}.validate(), ShouldBeNil)
		})
	})
}

func TestWrapKind(t *testing.T) {
	Convey("Given a wrapped error", t, func() {
		err := WrapKind("api.place_bid", ErrBadRequest, io.ErrUnexpectedEOF)

		Convey("It matches both kind and cause", func() {
			So(errors.Is(err, ErrBadRequest), ShouldBeTrue)
			So(errors.Is(err, io.ErrUnexpectedEOF), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "api.place_bid: bad request: unexpected EOF")
		})

		Convey("A nil cause degrades to NewKind", func() {
			err := WrapKind("op", ErrStreaming, nil)
			So(errors.Is(err, ErrStreaming), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "op: streaming unsupported")
		})
	})
}

func TestTopicParsing(t *testing.T) {
	Convey("Given topic filters", t, func() {
		topics, err := parseTopics("")
		So(err, ShouldBeNil)
		So(topics, ShouldBeNil)

		topics, err = parseTopics("bid.placed, turn.started")
		So(err, ShouldBeNil)
		So(topics, ShouldHaveLength, 2)

		_, err = parseTopics("bid.placed,nope")
		So(err, ShouldNotBeNil)
	})
}

func TestErrorType(t *testing.T) {
	Convey("Status codes map to error types", t, func() {
		So(getErrorType(500), ShouldEqual, "server_error")
		So(getErrorType(429), ShouldEqual, "busy")
		So(getErrorType(422), ShouldEqual, "rejected")
		So(getErrorType(409), ShouldEqual, "conflict")
		So(getErrorType(404), ShouldEqual, "not_found")
		So(getErrorType(400), ShouldEqual, "client_error")
	})
}
