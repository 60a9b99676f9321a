package checkout

// CouponFailedError wraps an unexpected failure while applying a coupon.
// Rejections are reported as *coupon.RejectedError instead.
type CouponFailedError struct {
	Err error
}

func (e *CouponFailedError) Error() string { return "error applying coupon: " + e.Err.Error() }

func (e *CouponFailedError) Unwrap() error { return e.Err }
