package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGeoLocation(t *testing.T) {
	t.Run("replaces the extracted value and keeps the rest", func(t *testing.T) {
		out, err := SetGeoLocation([]byte(`{"patient_information":{"name":"Jane Doe","geolocation":null},"vital_signs":{"heart_rate":88}}`), "Alameda County, California")
		require.NoError(t, err)

		raw, err := DecodeRawExtractedForm(out)
		require.NoError(t, err)
		assert.Equal(t, "Alameda County, California", raw.PatientInformation.GeoLocation.Text())
		assert.Equal(t, "Jane Doe", raw.PatientInformation.Name.Text())
		hr, ok := raw.VitalSigns.HeartRate.Number()
		assert.True(t, ok)
		assert.Equal(t, 88.0, hr)
	})

	t.Run("creates a missing section", func(t *testing.T) {
		for _, payload := range []string{`{}`, `{"patient_information":"n/a"}`} {
			out, err := SetGeoLocation([]byte(payload), "Harris County, Texas")
			require.NoError(t, err, payload)
			raw, err := DecodeRawExtractedForm(out)
			require.NoError(t, err)
			assert.Equal(t, "Harris County, Texas", raw.PatientInformation.GeoLocation.Text())
		}
	})

	t.Run("rejects a non-object payload", func(t *testing.T) {
		_, err := SetGeoLocation([]byte(`[1,2]`), "x")
		assert.Error(t, err)
		_, err = SetGeoLocation([]byte(`null`), "x")
		assert.Error(t, err)
	})
}
