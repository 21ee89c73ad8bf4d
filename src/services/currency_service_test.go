// backend/src/services/currency_service_test.go
package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/maplefolio/backend/src/models"
)

func TestConvertSameCurrencyIsIdentity(t *testing.T) {
	svc := NewCurrencyService(&stubPriceService{})

	got, err := svc.Convert(context.Background(), dec("123.45"), models.CAD, models.CAD, nil)
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("123.45")))
}

func TestConvertPinnedRateOverridesLiveRate(t *testing.T) {
	svc := NewCurrencyService(&stubPriceService{fxRate: dec("1.40")})
	pinned := dec("1.3312")

	got, err := svc.Convert(context.Background(), dec("100"), models.USD, models.CAD, &pinned)
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("133.12")))
}

func TestConvertPinnedRateIgnoredForCADToUSD(t *testing.T) {
	svc := NewCurrencyService(&stubPriceService{fxRate: dec("0.75")})
	pinned := dec("1.3312")

	// The pinned rate is USD->CAD only; the opposite direction goes live.
	got, err := svc.Convert(context.Background(), dec("100"), models.CAD, models.USD, &pinned)
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("75")))
}

func TestConvertLiveRateWhenNoPin(t *testing.T) {
	svc := NewCurrencyService(&stubPriceService{fxRate: dec("1.35")})

	got, err := svc.Convert(context.Background(), dec("200"), models.USD, models.CAD, nil)
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("270")))
}

func TestConvertSurfacesRateFailure(t *testing.T) {
	svc := NewCurrencyService(&stubPriceService{fxErr: ErrRateUnavailable})

	_, err := svc.Convert(context.Background(), dec("200"), models.USD, models.CAD, nil)
	assert.ErrorIs(t, err, ErrRateUnavailable)
}
