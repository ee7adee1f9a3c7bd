package lock

import (
	"testing"
	"time"

	"github.com/gaestalt/lockd/testutil"
	"github.com/gaestalt/lockd/types"
)

func TestAcquireThenCheckThenRelease(t *testing.T) {
	lm, clock := newTestManager()
	now := clock.NowUnixMilli()

	res := lm.acquireWithToken("L1", "C1", "us-east", 1, now+30000, now)
	testutil.AssertEqual(t, types.StatusOK, res.Status)
	testutil.AssertEqual(t, types.FencingToken(1), res.Token)
	testutil.AssertEqual(t, now+30000, res.ExpiresAt)

	check := lm.Check("L1")
	testutil.AssertEqual(t, types.StatusOK, check.Status)
	testutil.AssertEqual(t, types.ClientID("C1"), check.Holder)
	testutil.AssertEqual(t, types.FencingToken(1), check.Token)

	rel := lm.releaseByToken("L1", 1)
	testutil.AssertEqual(t, types.StatusOK, rel.Status)
	testutil.AssertEqual(t, types.StatusNotFound, lm.Check("L1").Status)
}

func TestAcquireContention(t *testing.T) {
	lm, clock := newTestManager()
	now := clock.NowUnixMilli()

	lm.acquireWithToken("L1", "C1", "us-east", 1, now+30000, now)

	res := lm.acquireWithToken("L1", "C2", "us-east", 2, now+30000, now)
	testutil.AssertEqual(t, types.StatusAlreadyLocked, res.Status)
	testutil.AssertEqual(t, types.ClientID("C1"), res.Holder)
	testutil.AssertEqual(t, types.FencingToken(1), res.Token)

	lm.releaseByToken("L1", 1)
	res = lm.acquireWithToken("L1", "C2", "us-east", 2, now+30000, now)
	testutil.AssertEqual(t, types.StatusOK, res.Status)
	testutil.AssertEqual(t, types.FencingToken(2), res.Token)
}

func TestReleaseFencing(t *testing.T) {
	lm, clock := newTestManager()
	now := clock.NowUnixMilli()

	lm.acquireWithToken("L1", "C1", "us-east", 1, now+30000, now)
	lm.releaseByToken("L1", 1)
	lm.acquireWithToken("L1", "C2", "us-east", 2, now+30000, now)

	// The original holder's token is stale; the entry must survive.
	res := lm.releaseByToken("L1", 1)
	testutil.AssertEqual(t, types.StatusInvalidToken, res.Status)
	testutil.AssertEqual(t, types.StatusOK, lm.Check("L1").Status)

	res = lm.releaseByToken("L1", 2)
	testutil.AssertEqual(t, types.StatusOK, res.Status)
}

func TestReleaseMissingLock(t *testing.T) {
	lm, _ := newTestManager()
	res := lm.releaseByToken("never-acquired", 1)
	testutil.AssertEqual(t, types.StatusNotFound, res.Status)
}

func TestReentrantAcquireKeepsTokenAndExpiry(t *testing.T) {
	lm, clock := newTestManager()
	now := clock.NowUnixMilli()

	first := lm.acquireWithToken("L2", "C3", "us-east", 5, now+30000, now)
	testutil.AssertEqual(t, types.StatusOK, first.Status)

	// A retry after a lost reply carries a fresh pre-assigned token; the
	// holder gets its existing grant back unchanged.
	retry := lm.acquireWithToken("L2", "C3", "us-east", 6, now+45000, now)
	testutil.AssertEqual(t, types.StatusOK, retry.Status)
	testutil.AssertEqual(t, types.FencingToken(5), retry.Token)
	testutil.AssertEqual(t, now+30000, retry.ExpiresAt)
}

func TestLazyExpiryOnAcquire(t *testing.T) {
	lm, clock := newTestManager()
	now := clock.NowUnixMilli()

	lm.acquireWithToken("L1", "C1", "us-east", 1, now+1000, now)
	clock.advance(1500 * time.Millisecond)

	// The expired entry is treated as absent: a new holder takes over.
	res := lm.acquireWithToken("L1", "C2", "us-east", 2, clock.NowUnixMilli()+1000, clock.NowUnixMilli())
	testutil.AssertEqual(t, types.StatusOK, res.Status)
	testutil.AssertEqual(t, types.ClientID("C2"), res.Holder)
}

func TestLazyExpiryOnCheckAndRelease(t *testing.T) {
	lm, clock := newTestManager()
	now := clock.NowUnixMilli()

	lm.acquireWithToken("L1", "C1", "us-east", 1, now+1000, now)
	clock.advance(2 * time.Second)

	testutil.AssertEqual(t, types.StatusNotFound, lm.Check("L1").Status)
	testutil.AssertEqual(t, types.StatusNotFound, lm.releaseByToken("L1", 1).Status)
	testutil.AssertEqual(t, 0, lm.HeldCount(), "release collects the expired entry")
}

func TestExtendByToken(t *testing.T) {
	lm, clock := newTestManager()
	now := clock.NowUnixMilli()

	lm.acquireWithToken("L1", "C1", "us-east", 1, now+10000, now)

	res := lm.extendByToken("L1", 1, now+60000)
	testutil.AssertEqual(t, types.StatusOK, res.Status)
	testutil.AssertEqual(t, now+60000, res.ExpiresAt)
	testutil.AssertEqual(t, now+60000, lm.Check("L1").ExpiresAt)

	res = lm.extendByToken("L1", 99, now+90000)
	testutil.AssertEqual(t, types.StatusInvalidToken, res.Status)
	testutil.AssertEqual(t, now+60000, lm.Check("L1").ExpiresAt)

	res = lm.extendByToken("missing", 1, now+60000)
	testutil.AssertEqual(t, types.StatusNotFound, res.Status)
}

func TestGetLockReturnsExpiredEntries(t *testing.T) {
	lm, clock := newTestManager()
	now := clock.NowUnixMilli()

	lm.acquireWithToken("L1", "C1", "us-east", 3, now+1000, now)
	clock.advance(5 * time.Second)

	// Token pre-assignment needs the stale token even after expiry.
	l, ok := lm.GetLock("L1")
	testutil.AssertTrue(t, ok)
	testutil.AssertEqual(t, types.FencingToken(3), l.Token)
	testutil.AssertEqual(t, types.StatusNotFound, lm.Check("L1").Status)
}
